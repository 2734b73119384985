// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"time"
)

// Asset is the canonical record per (bucket, object_key). Tombstoned assets
// keep their row so a re-upload of the same key can inherit the lineage.
type Asset struct {
	AssetID             string      `json:"asset_id"`
	LineageID           string      `json:"lineage_id"`
	Bucket              string      `json:"bucket"`
	ObjectKey           string      `json:"object_key"`
	CurrentVersionID    string      `json:"current_version_id,omitempty"`
	Status              AssetStatus `json:"status"`
	TriageState         TriageState `json:"triage_state,omitempty"`
	RecommendedAction   string      `json:"recommended_action,omitempty"`
	TranscriptionEngine string      `json:"transcription_engine"`
	LastError           string      `json:"last_error,omitempty"`
	Attempt             int         `json:"attempt"`
	FileSize            int64       `json:"file_size"`
	ContentType         string      `json:"content_type,omitempty"`
	ETag                string      `json:"etag,omitempty"`
	DurationMS          int64       `json:"duration_ms,omitempty"`
	CodecInfo           string      `json:"codec_info,omitempty"`
	Tombstone           bool        `json:"tombstone"`
	IngestTime          time.Time   `json:"ingest_time"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// AssetVersion is one distinct content state of an asset, keyed by the
// deterministic version ID.
type AssetVersion struct {
	VersionID    string        `json:"version_id"`
	AssetID      string        `json:"asset_id"`
	Status       VersionStatus `json:"status"`
	PublishState PublishState  `json:"publish_state"`
	ETag         string        `json:"etag"`
	FileSize     int64         `json:"file_size"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Segment is a timed text chunk of a version's transcript.
type Segment struct {
	SegmentID        string        `json:"segment_id"`
	AssetID          string        `json:"asset_id"`
	VersionID        string        `json:"version_id"`
	StartMS          int64         `json:"start_ms"`
	EndMS            int64         `json:"end_ms"`
	Text             string        `json:"text"`
	Speaker          string        `json:"speaker,omitempty"`
	Confidence       float32       `json:"confidence"`
	Visibility       Visibility    `json:"visibility"`
	ChunkingStrategy ChunkStrategy `json:"chunking_strategy"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Embedding is a fixed-dimension float vector for one segment.
type Embedding struct {
	EmbeddingID string     `json:"embedding_id"`
	AssetID     string     `json:"asset_id"`
	VersionID   string     `json:"version_id"`
	SegmentID   string     `json:"segment_id"`
	Vector      []float32  `json:"embedding"`
	Model       string     `json:"model"`
	Dimension   int        `json:"dimension"`
	Visibility  Visibility `json:"visibility"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EnginePolicy is the per-job transcription configuration.
type EnginePolicy struct {
	Engine                  string        `json:"engine"`
	DiarizationEnabled      bool          `json:"diarization_enabled"`
	ExecutionMode           string        `json:"execution_mode,omitempty"`
	ComputeThresholdSeconds int           `json:"compute_threshold_seconds"`
	ForceChunkingStrategy   ChunkStrategy `json:"force_chunking_strategy,omitempty"`
	Language                string        `json:"language,omitempty"`
}

// Job is a queued unit of transcription work.
type Job struct {
	JobID          string       `json:"job_id"`
	AssetID        string       `json:"asset_id"`
	VersionID      string       `json:"version_id"`
	EnginePolicy   EnginePolicy `json:"engine_policy"`
	Attempt        int          `json:"attempt"`
	IdempotencyKey string       `json:"idempotency_key"`
	EnqueuedAt     time.Time    `json:"enqueued_at"`
	ScheduledAt    time.Time    `json:"scheduled_at"`
}

// JobIdempotencyKey derives the deterministic key suppressing duplicate
// deliveries of the same (asset, version, attempt) triple.
func JobIdempotencyKey(assetID, versionID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", assetID, versionID, attempt)
}

// DLQItem is a parked failed job with diagnostics for operator triage.
type DLQItem struct {
	DLQID          string    `json:"dlq_id"`
	JobID          string    `json:"job_id"`
	AssetID        string    `json:"asset_id"`
	VersionID      string    `json:"version_id"`
	ErrorCode      string    `json:"error_code"`
	ErrorMessage   string    `json:"error_message"`
	ErrorRetryable bool      `json:"error_retryable"`
	Job            *Job      `json:"job_data"`
	Logs           []string  `json:"logs,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ObjectEventType discriminates object store notifications.
type ObjectEventType string

const (
	ObjectCreated ObjectEventType = "ObjectCreated"
	ObjectRemoved ObjectEventType = "ObjectRemoved"
)

// ObjectEvent is a single object store notification. ETag, Size and
// ContentType may be absent; ingest fills them from a Head call.
type ObjectEvent struct {
	Type        ObjectEventType `json:"event_type"`
	Bucket      string          `json:"bucket"`
	ObjectKey   string          `json:"object_key"`
	ETag        string          `json:"etag,omitempty"`
	Size        int64           `json:"size,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	ModTime     time.Time       `json:"timestamp"`
}
