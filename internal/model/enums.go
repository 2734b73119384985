// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// AssetStatus is the ingest-visible lifecycle of a media asset.
// Keep these stable: metrics + triage UX depend on them.
type AssetStatus string

const (
	AssetIngested     AssetStatus = "INGESTED"
	AssetTranscribing AssetStatus = "TRANSCRIBING"
	AssetTranscribed  AssetStatus = "TRANSCRIBED"
	AssetIndexed      AssetStatus = "INDEXED"
	AssetPendingRetry AssetStatus = "PENDING_RETRY"
	AssetQuarantined  AssetStatus = "QUARANTINED"
	AssetFailed       AssetStatus = "FAILED"
	AssetDeleted      AssetStatus = "DELETED"
)

// IsTerminal returns true if the status is a final state.
// INDEXED is the steady state for a live asset; DELETED and FAILED never leave.
func (s AssetStatus) IsTerminal() bool {
	switch s {
	case AssetIndexed, AssetDeleted, AssetFailed:
		return true
	}
	return false
}

// VersionStatus tracks the processing lifecycle of a single asset version.
type VersionStatus string

const (
	VersionIngested  VersionStatus = "INGESTED"
	VersionPublished VersionStatus = "PUBLISHED"
)

// PublishState is the per-version publication lifecycle. Only the publisher
// transitions versions to ACTIVE or ARCHIVED.
type PublishState string

const (
	PublishStaging     PublishState = "STAGING"
	PublishActive      PublishState = "ACTIVE"
	PublishArchived    PublishState = "ARCHIVED"
	PublishSoftDeleted PublishState = "SOFT_DELETED"
)

// Visibility is the per-row lifecycle tag on segments and embeddings.
// Only ACTIVE rows are search-visible.
type Visibility string

const (
	VisibilityStaging     Visibility = "STAGING"
	VisibilityActive      Visibility = "ACTIVE"
	VisibilityArchived    Visibility = "ARCHIVED"
	VisibilitySoftDeleted Visibility = "SOFT_DELETED"
)

// TriageState is the operator-facing classification of a quarantined asset.
type TriageState string

const (
	TriageNeedsMediaFix     TriageState = "NEEDS_MEDIA_FIX"
	TriageNeedsEngineTuning TriageState = "NEEDS_ENGINE_TUNING"
	TriageQuarantined       TriageState = "QUARANTINED"
)

// ChunkStrategy selects how raw ASR output is re-segmented.
type ChunkStrategy string

const (
	ChunkSentence    ChunkStrategy = "sentence"
	ChunkFixedWindow ChunkStrategy = "fixed-window"
)

// JobStatus mirrors queue delivery state into the transcription_jobs table
// for operator visibility. The queue substrate remains the delivery truth.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobRunning    JobStatus = "RUNNING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobDeadLetter JobStatus = "DEAD_LETTER"
)

// MatchType labels which query mode produced a search hit.
type MatchType string

const (
	MatchKeyword  MatchType = "keyword"
	MatchSemantic MatchType = "semantic"
	MatchHybrid   MatchType = "hybrid"
)

// SupportedExtensions is the set of media file extensions accepted at ingest.
// Lookup keys are lowercase without the leading dot.
var SupportedExtensions = map[string]struct{}{
	"wav":  {},
	"mp3":  {},
	"aac":  {},
	"flac": {},
	"mp4":  {},
	"mov":  {},
	"mxf":  {},
}
