// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store is the database port for the mediasearch pipeline: asset and
// version records, transcript rows, the jobs mirror, the DLQ, and the three
// search primitives. Adapters must run every multi-row mutation inside a
// transaction; the memory adapter serializes through a lock instead.
package store

import (
	"context"
	"time"

	"github.com/ManuGH/mediasearch/internal/model"
)

// IngestResult reports what an IngestObject call actually did.
type IngestResult struct {
	Asset   *model.Asset
	Version *model.AssetVersion
	// Created is false when the version already existed and the call was an
	// idempotent no-op.
	Created bool
}

// SearchFilter narrows the search primitives. All primitives additionally
// enforce the hard visibility filters: visibility = ACTIVE, version =
// asset.current_version_id, asset not tombstoned.
type SearchFilter struct {
	Query   string
	Bucket  string
	Speaker string
	// Limit caps the rows returned by the primitive (post-ordering).
	Limit int
}

// SearchHit is one matching segment joined with its asset coordinates.
// Score is raw per mode: keyword = token occurrence count, semantic =
// 1 - cosine distance clamped into [0, 1].
type SearchHit struct {
	AssetID   string
	VersionID string
	SegmentID string
	StartMS   int64
	EndMS     int64
	Text      string
	Speaker   string
	Score     float64
	CreatedAt time.Time
	Bucket    string
	ObjectKey string
}

// Store is the database port.
type Store interface {
	// --- Assets ---
	GetAsset(ctx context.Context, assetID string) (*model.Asset, error)
	// GetAssetByObject resolves the non-tombstoned asset at (bucket, key).
	GetAssetByObject(ctx context.Context, bucket, key string) (*model.Asset, error)
	// UpdateAsset applies fn to the current record and persists the result.
	UpdateAsset(ctx context.Context, assetID string, fn func(*model.Asset) error) (*model.Asset, error)
	ListAssetsByStatus(ctx context.Context, status model.AssetStatus) ([]*model.Asset, error)

	// --- Versions ---
	GetVersion(ctx context.Context, versionID string) (*model.AssetVersion, error)
	ListVersions(ctx context.Context, assetID string) ([]*model.AssetVersion, error)

	// --- Ingest (single transaction) ---
	// IngestObject creates or reuses the asset at (bucket, key) and creates
	// the version unless it already exists. A tombstoned predecessor at the
	// same coordinates donates its lineage ID to the new asset.
	IngestObject(ctx context.Context, asset *model.Asset, version *model.AssetVersion) (*IngestResult, error)
	// TombstoneAsset marks the asset deleted, clears its current version and
	// soft-deletes all of its segments and embeddings, atomically.
	TombstoneAsset(ctx context.Context, bucket, key string) (*model.Asset, error)

	// --- Transcript writes (single transaction) ---
	// ReplaceStagingTranscript removes any previous STAGING rows of the
	// version and writes the given set, making orchestrator re-runs converge.
	ReplaceStagingTranscript(ctx context.Context, assetID, versionID string, segs []*model.Segment, embs []*model.Embedding) error
	ListSegments(ctx context.Context, assetID, versionID string) ([]*model.Segment, error)
	ListEmbeddings(ctx context.Context, assetID, versionID string) ([]*model.Embedding, error)

	// --- Publish (single transaction, sole ACTIVE/ARCHIVED mutator) ---
	// PublishVersion archives the previous current version's rows, flips the
	// new version's rows to ACTIVE, repoints current_version_id and marks the
	// asset INDEXED. Publishing the already-current ACTIVE version is a
	// no-op. Readers never observe two ACTIVE versions of one asset.
	PublishVersion(ctx context.Context, assetID, versionID string) error

	// --- Jobs mirror ---
	UpsertJob(ctx context.Context, job *model.Job, status model.JobStatus) error
	MarkJob(ctx context.Context, jobID string, status model.JobStatus, lastError string) error

	// --- DLQ ---
	AddDLQItem(ctx context.Context, item *model.DLQItem) error
	ListDLQByAsset(ctx context.Context, assetID string) ([]*model.DLQItem, error)
	RemoveDLQByAsset(ctx context.Context, assetID string) (int, error)
	ListQuarantined(ctx context.Context) ([]*model.Asset, error)

	// --- Search primitives ---
	SearchKeyword(ctx context.Context, f SearchFilter) ([]*SearchHit, error)
	SearchSemantic(ctx context.Context, vector []float32, f SearchFilter) ([]*SearchHit, error)

	// --- Retention ---
	// PurgeArchivedVersions deletes ARCHIVED versions created before the
	// cutoff together with their segment and embedding rows.
	PurgeArchivedVersions(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}
