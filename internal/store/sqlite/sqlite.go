// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sqlite is the embedded-database adapter for the local backend.
// Vectors are stored as little-endian float32 BLOBs and scored in Go so
// search ranking is identical to the other adapters.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/store"
)

// Store implements store.Store on a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open initializes the SQLite pool with mandatory PRAGMAs. WAL mode and
// busy_timeout go into the DSN so they apply to every pooled connection.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS media_assets (
		asset_id TEXT PRIMARY KEY,
		lineage_id TEXT NOT NULL,
		bucket TEXT NOT NULL,
		object_key TEXT NOT NULL,
		current_version_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		triage_state TEXT NOT NULL DEFAULT '',
		recommended_action TEXT NOT NULL DEFAULT '',
		transcription_engine TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		attempt INTEGER NOT NULL DEFAULT 0,
		file_size INTEGER NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		codec_info TEXT NOT NULL DEFAULT '',
		tombstone INTEGER NOT NULL DEFAULT 0,
		ingest_time TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_object ON media_assets(bucket, object_key, tombstone);
	CREATE INDEX IF NOT EXISTS idx_assets_status ON media_assets(status);

	CREATE TABLE IF NOT EXISTS asset_versions (
		version_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES media_assets(asset_id),
		status TEXT NOT NULL,
		publish_state TEXT NOT NULL,
		etag TEXT NOT NULL DEFAULT '',
		file_size INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_versions_asset ON asset_versions(asset_id);
	CREATE INDEX IF NOT EXISTS idx_versions_state ON asset_versions(publish_state, created_at);

	CREATE TABLE IF NOT EXISTS transcript_segments (
		segment_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		version_id TEXT NOT NULL REFERENCES asset_versions(version_id) ON DELETE CASCADE,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		text TEXT NOT NULL,
		speaker TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		visibility TEXT NOT NULL,
		chunking_strategy TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_segments_version ON transcript_segments(version_id, visibility);

	CREATE TABLE IF NOT EXISTS transcript_embeddings (
		embedding_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		version_id TEXT NOT NULL REFERENCES asset_versions(version_id) ON DELETE CASCADE,
		segment_id TEXT NOT NULL,
		embedding BLOB NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		dimension INTEGER NOT NULL,
		visibility TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_version ON transcript_embeddings(version_id, visibility);

	CREATE TABLE IF NOT EXISTS transcription_jobs (
		job_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		engine_policy TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		started_at TEXT,
		completed_at TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_asset ON transcription_jobs(asset_id);

	CREATE TABLE IF NOT EXISTS dlq_items (
		dlq_id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		error_code TEXT NOT NULL,
		error_message TEXT NOT NULL,
		error_retryable INTEGER NOT NULL DEFAULT 0,
		job_data TEXT NOT NULL DEFAULT '{}',
		logs TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dlq_asset ON dlq_items(asset_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- helpers ---

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// timeFormat is fixed-width so stored timestamps compare lexicographically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapErr(model.KindInternal, "tx_begin_failed", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return model.WrapErr(model.KindInternal, "tx_commit_failed", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const assetCols = `asset_id, lineage_id, bucket, object_key, current_version_id, status,
	triage_state, recommended_action, transcription_engine, last_error, attempt,
	file_size, content_type, etag, duration_ms, codec_info, tombstone, ingest_time, updated_at`

func scanAsset(row interface{ Scan(...any) error }) (*model.Asset, error) {
	var a model.Asset
	var tombstone int
	var ingest, updated string
	err := row.Scan(&a.AssetID, &a.LineageID, &a.Bucket, &a.ObjectKey, &a.CurrentVersionID,
		&a.Status, &a.TriageState, &a.RecommendedAction, &a.TranscriptionEngine, &a.LastError,
		&a.Attempt, &a.FileSize, &a.ContentType, &a.ETag, &a.DurationMS, &a.CodecInfo,
		&tombstone, &ingest, &updated)
	if err != nil {
		return nil, err
	}
	a.Tombstone = tombstone != 0
	a.IngestTime = parseTime(ingest)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

func getAsset(ctx context.Context, q querier, assetID string) (*model.Asset, error) {
	a, err := scanAsset(q.QueryRowContext(ctx,
		`SELECT `+assetCols+` FROM media_assets WHERE asset_id = ?`, assetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.E(model.KindNotFound, "asset_missing", "asset %s not found", assetID)
	}
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "asset_query_failed", err)
	}
	return a, nil
}

func writeAsset(ctx context.Context, tx *sql.Tx, a *model.Asset) error {
	tomb := 0
	if a.Tombstone {
		tomb = 1
	}
	_, err := tx.ExecContext(ctx, `
	INSERT INTO media_assets (`+assetCols+`)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(asset_id) DO UPDATE SET
		current_version_id = excluded.current_version_id,
		status = excluded.status,
		triage_state = excluded.triage_state,
		recommended_action = excluded.recommended_action,
		transcription_engine = excluded.transcription_engine,
		last_error = excluded.last_error,
		attempt = excluded.attempt,
		file_size = excluded.file_size,
		content_type = excluded.content_type,
		etag = excluded.etag,
		duration_ms = excluded.duration_ms,
		codec_info = excluded.codec_info,
		tombstone = excluded.tombstone,
		updated_at = excluded.updated_at`,
		a.AssetID, a.LineageID, a.Bucket, a.ObjectKey, a.CurrentVersionID, string(a.Status),
		string(a.TriageState), a.RecommendedAction, a.TranscriptionEngine, a.LastError, a.Attempt,
		a.FileSize, a.ContentType, a.ETag, a.DurationMS, a.CodecInfo, tomb,
		fmtTime(a.IngestTime), fmtTime(a.UpdatedAt))
	if err != nil {
		return model.WrapErr(model.KindInternal, "asset_write_failed", err)
	}
	return nil
}

// --- assets ---

func (s *Store) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	return getAsset(ctx, s.db, assetID)
}

func (s *Store) GetAssetByObject(ctx context.Context, bucket, key string) (*model.Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetCols+` FROM media_assets
		 WHERE bucket = ? AND object_key = ? AND tombstone = 0
		 ORDER BY updated_at DESC LIMIT 1`, bucket, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.E(model.KindNotFound, "asset_missing", "no asset at %s/%s", bucket, key)
	}
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "asset_query_failed", err)
	}
	return a, nil
}

func (s *Store) UpdateAsset(ctx context.Context, assetID string, fn func(*model.Asset) error) (*model.Asset, error) {
	var out *model.Asset
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		a, err := getAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		a.UpdatedAt = time.Now().UTC()
		if err := writeAsset(ctx, tx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (s *Store) ListAssetsByStatus(ctx context.Context, status model.AssetStatus) ([]*model.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetCols+` FROM media_assets WHERE status = ? ORDER BY asset_id`, string(status))
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "asset_query_failed", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, model.WrapErr(model.KindInternal, "asset_scan_failed", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- versions ---

func scanVersion(row interface{ Scan(...any) error }) (*model.AssetVersion, error) {
	var v model.AssetVersion
	var created string
	err := row.Scan(&v.VersionID, &v.AssetID, &v.Status, &v.PublishState, &v.ETag, &v.FileSize, &created)
	if err != nil {
		return nil, err
	}
	v.CreatedAt = parseTime(created)
	return &v, nil
}

const versionCols = `version_id, asset_id, status, publish_state, etag, file_size, created_at`

func (s *Store) GetVersion(ctx context.Context, versionID string) (*model.AssetVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionCols+` FROM asset_versions WHERE version_id = ?`, versionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.E(model.KindNotFound, "version_missing", "version %s not found", versionID)
	}
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "version_query_failed", err)
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, assetID string) ([]*model.AssetVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionCols+` FROM asset_versions WHERE asset_id = ? ORDER BY created_at`, assetID)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "version_query_failed", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.AssetVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, model.WrapErr(model.KindInternal, "version_scan_failed", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- ingest ---

func (s *Store) IngestObject(ctx context.Context, asset *model.Asset, version *model.AssetVersion) (*store.IngestResult, error) {
	var res store.IngestResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		existing, err := scanAsset(tx.QueryRowContext(ctx,
			`SELECT `+assetCols+` FROM media_assets
			 WHERE bucket = ? AND object_key = ? AND tombstone = 0
			 ORDER BY updated_at DESC LIMIT 1`, asset.Bucket, asset.ObjectKey))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Lineage carries over from a tombstoned predecessor at the
			// same coordinates, if any.
			var lineage string
			lerr := tx.QueryRowContext(ctx,
				`SELECT lineage_id FROM media_assets
				 WHERE bucket = ? AND object_key = ? AND tombstone = 1
				 ORDER BY updated_at DESC LIMIT 1`, asset.Bucket, asset.ObjectKey).Scan(&lineage)
			if lerr != nil && !errors.Is(lerr, sql.ErrNoRows) {
				return model.WrapErr(model.KindInternal, "lineage_query_failed", lerr)
			}
			if lineage != "" {
				asset.LineageID = lineage
			}
			asset.IngestTime = now
			asset.UpdatedAt = now
			if err := writeAsset(ctx, tx, asset); err != nil {
				return err
			}
			existing = asset
		case err != nil:
			return model.WrapErr(model.KindInternal, "asset_query_failed", err)
		}

		v, err := scanVersion(tx.QueryRowContext(ctx,
			`SELECT `+versionCols+` FROM asset_versions WHERE version_id = ? AND asset_id = ?`,
			version.VersionID, existing.AssetID))
		if err == nil {
			res = store.IngestResult{Asset: existing, Version: v, Created: false}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.WrapErr(model.KindInternal, "version_query_failed", err)
		}

		version.AssetID = existing.AssetID
		version.CreatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO asset_versions (`+versionCols+`) VALUES (?,?,?,?,?,?,?)`,
			version.VersionID, version.AssetID, string(version.Status), string(version.PublishState),
			version.ETag, version.FileSize, fmtTime(version.CreatedAt))
		if err != nil {
			return model.WrapErr(model.KindInternal, "version_write_failed", err)
		}
		res = store.IngestResult{Asset: existing, Version: version, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Store) TombstoneAsset(ctx context.Context, bucket, key string) (*model.Asset, error) {
	var out *model.Asset
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		a, err := scanAsset(tx.QueryRowContext(ctx,
			`SELECT `+assetCols+` FROM media_assets
			 WHERE bucket = ? AND object_key = ? AND tombstone = 0
			 ORDER BY updated_at DESC LIMIT 1`, bucket, key))
		if errors.Is(err, sql.ErrNoRows) {
			return model.E(model.KindNotFound, "asset_missing", "no asset at %s/%s", bucket, key)
		}
		if err != nil {
			return model.WrapErr(model.KindInternal, "asset_query_failed", err)
		}

		a.Tombstone = true
		a.CurrentVersionID = ""
		a.Status = model.AssetDeleted
		a.UpdatedAt = time.Now().UTC()
		if err := writeAsset(ctx, tx, a); err != nil {
			return err
		}

		for _, q := range []string{
			`UPDATE asset_versions SET publish_state = ? WHERE asset_id = ?`,
			`UPDATE transcript_segments SET visibility = ? WHERE asset_id = ?`,
			`UPDATE transcript_embeddings SET visibility = ? WHERE asset_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, string(model.VisibilitySoftDeleted), a.AssetID); err != nil {
				return model.WrapErr(model.KindInternal, "tombstone_update_failed", err)
			}
		}
		out = a
		return nil
	})
	return out, err
}

// --- transcript writes ---

func (s *Store) ReplaceStagingTranscript(ctx context.Context, assetID, versionID string, segs []*model.Segment, embs []*model.Embedding) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM asset_versions WHERE version_id = ?`, versionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return model.E(model.KindNotFound, "version_missing", "version %s not found", versionID)
		}
		if err != nil {
			return model.WrapErr(model.KindInternal, "version_query_failed", err)
		}

		for _, q := range []string{
			`DELETE FROM transcript_segments WHERE version_id = ? AND visibility = ?`,
			`DELETE FROM transcript_embeddings WHERE version_id = ? AND visibility = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, versionID, string(model.VisibilityStaging)); err != nil {
				return model.WrapErr(model.KindInternal, "staging_delete_failed", err)
			}
		}

		for _, seg := range segs {
			_, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_segments
				(segment_id, asset_id, version_id, start_ms, end_ms, text, speaker, confidence, visibility, chunking_strategy, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
				seg.SegmentID, seg.AssetID, seg.VersionID, seg.StartMS, seg.EndMS, seg.Text,
				seg.Speaker, seg.Confidence, string(seg.Visibility), string(seg.ChunkingStrategy),
				fmtTime(seg.CreatedAt))
			if err != nil {
				return model.WrapErr(model.KindInternal, "segment_write_failed", err)
			}
		}
		for _, emb := range embs {
			_, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_embeddings
				(embedding_id, asset_id, version_id, segment_id, embedding, model, dimension, visibility, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
				emb.EmbeddingID, emb.AssetID, emb.VersionID, emb.SegmentID, encodeVector(emb.Vector),
				emb.Model, emb.Dimension, string(emb.Visibility), fmtTime(emb.CreatedAt))
			if err != nil {
				return model.WrapErr(model.KindInternal, "embedding_write_failed", err)
			}
		}
		return nil
	})
}

func (s *Store) ListSegments(ctx context.Context, assetID, versionID string) ([]*model.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT segment_id, asset_id, version_id, start_ms, end_ms, text, speaker, confidence, visibility, chunking_strategy, created_at
	FROM transcript_segments WHERE asset_id = ? AND version_id = ? ORDER BY start_ms`, assetID, versionID)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "segment_query_failed", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Segment
	for rows.Next() {
		var seg model.Segment
		var created string
		if err := rows.Scan(&seg.SegmentID, &seg.AssetID, &seg.VersionID, &seg.StartMS, &seg.EndMS,
			&seg.Text, &seg.Speaker, &seg.Confidence, &seg.Visibility, &seg.ChunkingStrategy, &created); err != nil {
			return nil, model.WrapErr(model.KindInternal, "segment_scan_failed", err)
		}
		seg.CreatedAt = parseTime(created)
		out = append(out, &seg)
	}
	return out, rows.Err()
}

func (s *Store) ListEmbeddings(ctx context.Context, assetID, versionID string) ([]*model.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT embedding_id, asset_id, version_id, segment_id, embedding, model, dimension, visibility, created_at
	FROM transcript_embeddings WHERE asset_id = ? AND version_id = ? ORDER BY segment_id`, assetID, versionID)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "embedding_query_failed", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Embedding
	for rows.Next() {
		var emb model.Embedding
		var blob []byte
		var created string
		if err := rows.Scan(&emb.EmbeddingID, &emb.AssetID, &emb.VersionID, &emb.SegmentID,
			&blob, &emb.Model, &emb.Dimension, &emb.Visibility, &created); err != nil {
			return nil, model.WrapErr(model.KindInternal, "embedding_scan_failed", err)
		}
		emb.Vector = decodeVector(blob)
		emb.CreatedAt = parseTime(created)
		out = append(out, &emb)
	}
	return out, rows.Err()
}

// --- publish ---

func (s *Store) PublishVersion(ctx context.Context, assetID, versionID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		asset, err := getAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		v, err := scanVersion(tx.QueryRowContext(ctx,
			`SELECT `+versionCols+` FROM asset_versions WHERE version_id = ? AND asset_id = ?`,
			versionID, assetID))
		if errors.Is(err, sql.ErrNoRows) {
			return model.E(model.KindNotFound, "version_missing", "version %s not found for asset %s", versionID, assetID)
		}
		if err != nil {
			return model.WrapErr(model.KindInternal, "version_query_failed", err)
		}

		if asset.CurrentVersionID == versionID && v.PublishState == model.PublishActive {
			return nil
		}

		if old := asset.CurrentVersionID; old != "" && old != versionID {
			if _, err := tx.ExecContext(ctx,
				`UPDATE asset_versions SET publish_state = ? WHERE version_id = ?`,
				string(model.PublishArchived), old); err != nil {
				return model.WrapErr(model.KindInternal, "publish_archive_failed", err)
			}
			for _, table := range []string{"transcript_segments", "transcript_embeddings"} {
				if _, err := tx.ExecContext(ctx,
					`UPDATE `+table+` SET visibility = ? WHERE version_id = ? AND visibility = ?`,
					string(model.VisibilityArchived), old, string(model.VisibilityActive)); err != nil {
					return model.WrapErr(model.KindInternal, "publish_archive_failed", err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE asset_versions SET publish_state = ?, status = ? WHERE version_id = ?`,
			string(model.PublishActive), string(model.VersionPublished), versionID); err != nil {
			return model.WrapErr(model.KindInternal, "publish_promote_failed", err)
		}
		for _, table := range []string{"transcript_segments", "transcript_embeddings"} {
			if _, err := tx.ExecContext(ctx,
				`UPDATE `+table+` SET visibility = ? WHERE version_id = ? AND visibility IN (?, ?)`,
				string(model.VisibilityActive), versionID,
				string(model.VisibilityStaging), string(model.VisibilityArchived)); err != nil {
				return model.WrapErr(model.KindInternal, "publish_promote_failed", err)
			}
		}

		asset.CurrentVersionID = versionID
		asset.Status = model.AssetIndexed
		asset.UpdatedAt = time.Now().UTC()
		return writeAsset(ctx, tx, asset)
	})
}

// --- jobs mirror ---

func (s *Store) UpsertJob(ctx context.Context, job *model.Job, status model.JobStatus) error {
	policy, err := json.Marshal(job.EnginePolicy)
	if err != nil {
		return model.WrapErr(model.KindInternal, "job_encode_failed", err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO transcription_jobs (job_id, asset_id, version_id, idempotency_key, attempt, engine_policy, status, updated_at)
	VALUES (?,?,?,?,?,?,?,?)
	ON CONFLICT(job_id) DO UPDATE SET
		attempt = excluded.attempt,
		status = excluded.status,
		updated_at = excluded.updated_at`,
		job.JobID, job.AssetID, job.VersionID, job.IdempotencyKey, job.Attempt,
		string(policy), string(status), fmtTime(time.Now()))
	if err != nil {
		return model.WrapErr(model.KindInternal, "job_write_failed", err)
	}
	return nil
}

func (s *Store) MarkJob(ctx context.Context, jobID string, status model.JobStatus, lastError string) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
	UPDATE transcription_jobs SET
		status = ?,
		last_error = ?,
		started_at = CASE WHEN ? = 'RUNNING' THEN ? ELSE started_at END,
		completed_at = CASE WHEN ? IN ('COMPLETED', 'FAILED', 'DEAD_LETTER') THEN ? ELSE completed_at END,
		updated_at = ?
	WHERE job_id = ?`,
		string(status), lastError, string(status), now, string(status), now, now, jobID)
	if err != nil {
		return model.WrapErr(model.KindInternal, "job_write_failed", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return model.E(model.KindNotFound, "job_missing", "job %s not found", jobID)
	}
	return nil
}

// --- DLQ ---

func (s *Store) AddDLQItem(ctx context.Context, item *model.DLQItem) error {
	jobData, err := json.Marshal(item.Job)
	if err != nil {
		return model.WrapErr(model.KindInternal, "dlq_encode_failed", err)
	}
	logs, err := json.Marshal(item.Logs)
	if err != nil {
		return model.WrapErr(model.KindInternal, "dlq_encode_failed", err)
	}
	retryable := 0
	if item.ErrorRetryable {
		retryable = 1
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO dlq_items (dlq_id, job_id, asset_id, version_id, error_code, error_message, error_retryable, job_data, logs, created_at)
	VALUES (?,?,?,?,?,?,?,?,?,?)`,
		item.DLQID, item.JobID, item.AssetID, item.VersionID, item.ErrorCode, item.ErrorMessage,
		retryable, string(jobData), string(logs), fmtTime(item.CreatedAt))
	if err != nil {
		return model.WrapErr(model.KindInternal, "dlq_write_failed", err)
	}
	return nil
}

func (s *Store) ListDLQByAsset(ctx context.Context, assetID string) ([]*model.DLQItem, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT dlq_id, job_id, asset_id, version_id, error_code, error_message, error_retryable, job_data, logs, created_at
	FROM dlq_items WHERE asset_id = ? ORDER BY created_at`, assetID)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "dlq_query_failed", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.DLQItem
	for rows.Next() {
		var item model.DLQItem
		var retryable int
		var jobData, logs, created string
		if err := rows.Scan(&item.DLQID, &item.JobID, &item.AssetID, &item.VersionID,
			&item.ErrorCode, &item.ErrorMessage, &retryable, &jobData, &logs, &created); err != nil {
			return nil, model.WrapErr(model.KindInternal, "dlq_scan_failed", err)
		}
		item.ErrorRetryable = retryable != 0
		item.CreatedAt = parseTime(created)
		if jobData != "" && jobData != "null" {
			var job model.Job
			if err := json.Unmarshal([]byte(jobData), &job); err == nil {
				item.Job = &job
			}
		}
		_ = json.Unmarshal([]byte(logs), &item.Logs)
		out = append(out, &item)
	}
	return out, rows.Err()
}

func (s *Store) RemoveDLQByAsset(ctx context.Context, assetID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dlq_items WHERE asset_id = ?`, assetID)
	if err != nil {
		return 0, model.WrapErr(model.KindInternal, "dlq_delete_failed", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) ListQuarantined(ctx context.Context) ([]*model.Asset, error) {
	return s.ListAssetsByStatus(ctx, model.AssetQuarantined)
}

// --- search ---

// visibleSegments applies the hard filters in SQL; scoring happens in Go so
// ranking matches the other adapters exactly.
func (s *Store) visibleSegments(ctx context.Context, f store.SearchFilter, withVectors bool) (*sql.Rows, error) {
	vecCol := "NULL"
	join := ""
	if withVectors {
		vecCol = "e.embedding"
		join = `JOIN transcript_embeddings e
			ON e.segment_id = seg.segment_id AND e.version_id = seg.version_id AND e.visibility = 'ACTIVE'`
	}
	query := fmt.Sprintf(`
	SELECT seg.segment_id, seg.asset_id, seg.version_id, seg.start_ms, seg.end_ms,
	       seg.text, seg.speaker, seg.created_at, a.bucket, a.object_key, %s
	FROM transcript_segments seg
	JOIN media_assets a
		ON a.asset_id = seg.asset_id
		AND a.tombstone = 0
		AND a.current_version_id = seg.version_id
	%s
	WHERE seg.visibility = 'ACTIVE'
		AND (? = '' OR a.bucket = ?)
		AND (? = '' OR seg.speaker = ?)`, vecCol, join)
	return s.db.QueryContext(ctx, query, f.Bucket, f.Bucket, f.Speaker, f.Speaker)
}

func (s *Store) SearchKeyword(ctx context.Context, f store.SearchFilter) ([]*store.SearchHit, error) {
	rows, err := s.visibleSegments(ctx, f, false)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "search_query_failed", err)
	}
	defer func() { _ = rows.Close() }()

	tokens := store.Tokenize(f.Query)
	var hits []*store.SearchHit
	for rows.Next() {
		hit, _, err := scanHit(rows)
		if err != nil {
			return nil, err
		}
		if score := store.KeywordScore(hit.Text, tokens); score > 0 {
			hit.Score = score
			hits = append(hits, hit)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapErr(model.KindInternal, "search_scan_failed", err)
	}
	return store.SortHits(hits, f.Limit), nil
}

func (s *Store) SearchSemantic(ctx context.Context, vector []float32, f store.SearchFilter) ([]*store.SearchHit, error) {
	rows, err := s.visibleSegments(ctx, f, true)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "search_query_failed", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*store.SearchHit
	for rows.Next() {
		hit, blob, err := scanHit(rows)
		if err != nil {
			return nil, err
		}
		hit.Score = store.SemanticScore(store.CosineDistance(vector, decodeVector(blob)))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapErr(model.KindInternal, "search_scan_failed", err)
	}
	return store.SortHits(hits, f.Limit), nil
}

func scanHit(rows *sql.Rows) (*store.SearchHit, []byte, error) {
	var hit store.SearchHit
	var created string
	var blob []byte
	if err := rows.Scan(&hit.SegmentID, &hit.AssetID, &hit.VersionID, &hit.StartMS, &hit.EndMS,
		&hit.Text, &hit.Speaker, &created, &hit.Bucket, &hit.ObjectKey, &blob); err != nil {
		return nil, nil, model.WrapErr(model.KindInternal, "search_scan_failed", err)
	}
	hit.CreatedAt = parseTime(created)
	return &hit, blob, nil
}

// --- retention ---

func (s *Store) PurgeArchivedVersions(ctx context.Context, olderThan time.Time) (int, error) {
	var purged int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT version_id FROM asset_versions WHERE publish_state = ? AND created_at < ?`,
			string(model.PublishArchived), fmtTime(olderThan))
		if err != nil {
			return model.WrapErr(model.KindInternal, "purge_query_failed", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return model.WrapErr(model.KindInternal, "purge_scan_failed", err)
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return model.WrapErr(model.KindInternal, "purge_scan_failed", err)
		}

		for _, id := range ids {
			for _, q := range []string{
				`DELETE FROM transcript_embeddings WHERE version_id = ?`,
				`DELETE FROM transcript_segments WHERE version_id = ?`,
				`DELETE FROM asset_versions WHERE version_id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, q, id); err != nil {
					return model.WrapErr(model.KindInternal, "purge_delete_failed", err)
				}
			}
		}
		purged = len(ids)
		return nil
	})
	return purged, err
}
