// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package postgres is the production database adapter. It requires the
// pgvector extension; semantic search runs through the <=> cosine distance
// operator so the index does the heavy lifting.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/store"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

var _ store.Store = (*Store)(nil)

// Open connects, verifies pgvector is installed and runs migrations.
// dimension fixes the vector column width; it must match the embedder.
func Open(ctx context.Context, databaseURL string, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	cfg.MaxConns = 25

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool, dimension: dimension}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("pgvector extension unavailable: %w", err)
	}
	schema := fmt.Sprintf(`
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
		attempt INT NOT NULL DEFAULT 0,
		file_size BIGINT NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		codec_info TEXT NOT NULL DEFAULT '',
		tombstone BOOLEAN NOT NULL DEFAULT FALSE,
		ingest_time TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_object ON media_assets(bucket, object_key, tombstone);
	CREATE INDEX IF NOT EXISTS idx_assets_status ON media_assets(status);

	CREATE TABLE IF NOT EXISTS asset_versions (
		version_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES media_assets(asset_id),
		status TEXT NOT NULL,
		publish_state TEXT NOT NULL,
		etag TEXT NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_versions_asset ON asset_versions(asset_id);
	CREATE INDEX IF NOT EXISTS idx_versions_state ON asset_versions(publish_state, created_at);

	CREATE TABLE IF NOT EXISTS transcript_segments (
		segment_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		version_id TEXT NOT NULL REFERENCES asset_versions(version_id) ON DELETE CASCADE,
		start_ms BIGINT NOT NULL,
		end_ms BIGINT NOT NULL,
		text TEXT NOT NULL,
		speaker TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		visibility TEXT NOT NULL,
		chunking_strategy TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_segments_version ON transcript_segments(version_id, visibility);
	CREATE INDEX IF NOT EXISTS idx_segments_text ON transcript_segments USING GIN (to_tsvector('simple', text));

	CREATE TABLE IF NOT EXISTS transcript_embeddings (
		embedding_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		version_id TEXT NOT NULL REFERENCES asset_versions(version_id) ON DELETE CASCADE,
		segment_id TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		dimension INT NOT NULL,
		visibility TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_version ON transcript_embeddings(version_id, visibility);

	CREATE TABLE IF NOT EXISTS transcription_jobs (
		job_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		attempt INT NOT NULL DEFAULT 0,
		engine_policy JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_asset ON transcription_jobs(asset_id);

	CREATE TABLE IF NOT EXISTS dlq_items (
		dlq_id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		error_code TEXT NOT NULL,
		error_message TEXT NOT NULL,
		error_retryable BOOLEAN NOT NULL DEFAULT FALSE,
		job_data JSONB NOT NULL DEFAULT '{}',
		logs JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dlq_asset ON dlq_items(asset_id);
	`, s.dimension)
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// vectorLiteral renders a vector in pgvector's text format: [1,2,3].
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(s string) []float32 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		vec = append(vec, float32(f))
	}
	return vec
}

func nowUTC(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.WrapErr(model.KindInternal, "tx_begin_failed", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.WrapErr(model.KindInternal, "tx_commit_failed", err)
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const assetCols = `asset_id, lineage_id, bucket, object_key, current_version_id, status,
	triage_state, recommended_action, transcription_engine, last_error, attempt,
	file_size, content_type, etag, duration_ms, codec_info, tombstone, ingest_time, updated_at`

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var a model.Asset
	err := row.Scan(&a.AssetID, &a.LineageID, &a.Bucket, &a.ObjectKey, &a.CurrentVersionID,
		&a.Status, &a.TriageState, &a.RecommendedAction, &a.TranscriptionEngine, &a.LastError,
		&a.Attempt, &a.FileSize, &a.ContentType, &a.ETag, &a.DurationMS, &a.CodecInfo,
		&a.Tombstone, &a.IngestTime, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getAsset(ctx context.Context, q rowQuerier, assetID string) (*model.Asset, error) {
	a, err := scanAsset(q.QueryRow(ctx,
		`SELECT `+assetCols+` FROM media_assets WHERE asset_id = $1`, assetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.E(model.KindNotFound, "asset_missing", "asset %s not found", assetID)
	}
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "asset_query_failed", err)
	}
	return a, nil
}

func writeAsset(ctx context.Context, tx pgx.Tx, a *model.Asset) error {
	_, err := tx.Exec(ctx, `
	INSERT INTO media_assets (`+assetCols+`)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	ON CONFLICT (asset_id) DO UPDATE SET
		current_version_id = EXCLUDED.current_version_id,
		status = EXCLUDED.status,
		triage_state = EXCLUDED.triage_state,
		recommended_action = EXCLUDED.recommended_action,
		transcription_engine = EXCLUDED.transcription_engine,
		last_error = EXCLUDED.last_error,
		attempt = EXCLUDED.attempt,
		file_size = EXCLUDED.file_size,
		content_type = EXCLUDED.content_type,
		etag = EXCLUDED.etag,
		duration_ms = EXCLUDED.duration_ms,
		codec_info = EXCLUDED.codec_info,
		tombstone = EXCLUDED.tombstone,
		updated_at = EXCLUDED.updated_at`,
		a.AssetID, a.LineageID, a.Bucket, a.ObjectKey, a.CurrentVersionID, string(a.Status),
		string(a.TriageState), a.RecommendedAction, a.TranscriptionEngine, a.LastError, a.Attempt,
		a.FileSize, a.ContentType, a.ETag, a.DurationMS, a.CodecInfo, a.Tombstone,
		nowUTC(a.IngestTime), nowUTC(a.UpdatedAt))
	if err != nil {
		return model.WrapErr(model.KindInternal, "asset_write_failed", err)
	}
	return nil
}

// --- assets ---

func (s *Store) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	return getAsset(ctx, s.pool, assetID)
}

func (s *Store) GetAssetByObject(ctx context.Context, bucket, key string) (*model.Asset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx,
		`SELECT `+assetCols+` FROM media_assets
		 WHERE bucket = $1 AND object_key = $2 AND NOT tombstone
		 ORDER BY updated_at DESC LIMIT 1`, bucket, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.E(model.KindNotFound, "asset_missing", "no asset at %s/%s", bucket, key)
	}
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "asset_query_failed", err)
	}
	return a, nil
}

func (s *Store) UpdateAsset(ctx context.Context, assetID string, fn func(*model.Asset) error) (*model.Asset, error) {
	var out *model.Asset
	err := s.inTx(ctx, func(tx pgx.Tx) error {
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
	rows, err := s.pool.Query(ctx,
		`SELECT `+assetCols+` FROM media_assets WHERE status = $1 ORDER BY asset_id`, string(status))
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "asset_query_failed", err)
	}
	defer rows.Close()

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

const versionCols = `version_id, asset_id, status, publish_state, etag, file_size, created_at`

func scanVersion(row pgx.Row) (*model.AssetVersion, error) {
	var v model.AssetVersion
	err := row.Scan(&v.VersionID, &v.AssetID, &v.Status, &v.PublishState, &v.ETag, &v.FileSize, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) GetVersion(ctx context.Context, versionID string) (*model.AssetVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionCols+` FROM asset_versions WHERE version_id = $1`, versionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.E(model.KindNotFound, "version_missing", "version %s not found", versionID)
	}
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "version_query_failed", err)
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, assetID string) ([]*model.AssetVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionCols+` FROM asset_versions WHERE asset_id = $1 ORDER BY created_at`, assetID)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "version_query_failed", err)
	}
	defer rows.Close()

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
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()

		existing, err := scanAsset(tx.QueryRow(ctx,
			`SELECT `+assetCols+` FROM media_assets
			 WHERE bucket = $1 AND object_key = $2 AND NOT tombstone
			 ORDER BY updated_at DESC LIMIT 1 FOR UPDATE`, asset.Bucket, asset.ObjectKey))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			var lineage string
			lerr := tx.QueryRow(ctx,
				`SELECT lineage_id FROM media_assets
				 WHERE bucket = $1 AND object_key = $2 AND tombstone
				 ORDER BY updated_at DESC LIMIT 1`, asset.Bucket, asset.ObjectKey).Scan(&lineage)
			if lerr != nil && !errors.Is(lerr, pgx.ErrNoRows) {
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

		v, err := scanVersion(tx.QueryRow(ctx,
			`SELECT `+versionCols+` FROM asset_versions WHERE version_id = $1 AND asset_id = $2`,
			version.VersionID, existing.AssetID))
		if err == nil {
			res = store.IngestResult{Asset: existing, Version: v, Created: false}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return model.WrapErr(model.KindInternal, "version_query_failed", err)
		}

		version.AssetID = existing.AssetID
		version.CreatedAt = now
		_, err = tx.Exec(ctx,
			`INSERT INTO asset_versions (`+versionCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			version.VersionID, version.AssetID, string(version.Status), string(version.PublishState),
			version.ETag, version.FileSize, version.CreatedAt)
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
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := scanAsset(tx.QueryRow(ctx,
			`SELECT `+assetCols+` FROM media_assets
			 WHERE bucket = $1 AND object_key = $2 AND NOT tombstone
			 ORDER BY updated_at DESC LIMIT 1 FOR UPDATE`, bucket, key))
		if errors.Is(err, pgx.ErrNoRows) {
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
			`UPDATE asset_versions SET publish_state = $1 WHERE asset_id = $2`,
			`UPDATE transcript_segments SET visibility = $1 WHERE asset_id = $2`,
			`UPDATE transcript_embeddings SET visibility = $1 WHERE asset_id = $2`,
		} {
			if _, err := tx.Exec(ctx, q, string(model.VisibilitySoftDeleted), a.AssetID); err != nil {
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
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM asset_versions WHERE version_id = $1`, versionID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.E(model.KindNotFound, "version_missing", "version %s not found", versionID)
		}
		if err != nil {
			return model.WrapErr(model.KindInternal, "version_query_failed", err)
		}

		for _, q := range []string{
			`DELETE FROM transcript_segments WHERE version_id = $1 AND visibility = $2`,
			`DELETE FROM transcript_embeddings WHERE version_id = $1 AND visibility = $2`,
		} {
			if _, err := tx.Exec(ctx, q, versionID, string(model.VisibilityStaging)); err != nil {
				return model.WrapErr(model.KindInternal, "staging_delete_failed", err)
			}
		}

		for _, seg := range segs {
			_, err := tx.Exec(ctx, `
			INSERT INTO transcript_segments
				(segment_id, asset_id, version_id, start_ms, end_ms, text, speaker, confidence, visibility, chunking_strategy, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
				seg.SegmentID, seg.AssetID, seg.VersionID, seg.StartMS, seg.EndMS, seg.Text,
				seg.Speaker, seg.Confidence, string(seg.Visibility), string(seg.ChunkingStrategy),
				nowUTC(seg.CreatedAt))
			if err != nil {
				return model.WrapErr(model.KindInternal, "segment_write_failed", err)
			}
		}
		for _, emb := range embs {
			_, err := tx.Exec(ctx, `
			INSERT INTO transcript_embeddings
				(embedding_id, asset_id, version_id, segment_id, embedding, model, dimension, visibility, created_at)
			VALUES ($1,$2,$3,$4,$5::vector,$6,$7,$8,$9)`,
				emb.EmbeddingID, emb.AssetID, emb.VersionID, emb.SegmentID, vectorLiteral(emb.Vector),
				emb.Model, emb.Dimension, string(emb.Visibility), nowUTC(emb.CreatedAt))
			if err != nil {
				return model.WrapErr(model.KindInternal, "embedding_write_failed", err)
			}
		}
		return nil
	})
}

func (s *Store) ListSegments(ctx context.Context, assetID, versionID string) ([]*model.Segment, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT segment_id, asset_id, version_id, start_ms, end_ms, text, speaker, confidence, visibility, chunking_strategy, created_at
	FROM transcript_segments WHERE asset_id = $1 AND version_id = $2 ORDER BY start_ms`, assetID, versionID)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "segment_query_failed", err)
	}
	defer rows.Close()

	var out []*model.Segment
	for rows.Next() {
		var seg model.Segment
		if err := rows.Scan(&seg.SegmentID, &seg.AssetID, &seg.VersionID, &seg.StartMS, &seg.EndMS,
			&seg.Text, &seg.Speaker, &seg.Confidence, &seg.Visibility, &seg.ChunkingStrategy, &seg.CreatedAt); err != nil {
			return nil, model.WrapErr(model.KindInternal, "segment_scan_failed", err)
		}
		out = append(out, &seg)
	}
	return out, rows.Err()
}

func (s *Store) ListEmbeddings(ctx context.Context, assetID, versionID string) ([]*model.Embedding, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT embedding_id, asset_id, version_id, segment_id, embedding::text, model, dimension, visibility, created_at
	FROM transcript_embeddings WHERE asset_id = $1 AND version_id = $2 ORDER BY segment_id`, assetID, versionID)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "embedding_query_failed", err)
	}
	defer rows.Close()

	var out []*model.Embedding
	for rows.Next() {
		var emb model.Embedding
		var vec string
		if err := rows.Scan(&emb.EmbeddingID, &emb.AssetID, &emb.VersionID, &emb.SegmentID,
			&vec, &emb.Model, &emb.Dimension, &emb.Visibility, &emb.CreatedAt); err != nil {
			return nil, model.WrapErr(model.KindInternal, "embedding_scan_failed", err)
		}
		emb.Vector = parseVector(vec)
		out = append(out, &emb)
	}
	return out, rows.Err()
}

// --- publish ---

func (s *Store) PublishVersion(ctx context.Context, assetID, versionID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := scanAsset(tx.QueryRow(ctx,
			`SELECT `+assetCols+` FROM media_assets WHERE asset_id = $1 FOR UPDATE`, assetID))
		if errors.Is(err, pgx.ErrNoRows) {
			return model.E(model.KindNotFound, "asset_missing", "asset %s not found", assetID)
		}
		if err != nil {
			return model.WrapErr(model.KindInternal, "asset_query_failed", err)
		}

		v, err := scanVersion(tx.QueryRow(ctx,
			`SELECT `+versionCols+` FROM asset_versions WHERE version_id = $1 AND asset_id = $2`,
			versionID, assetID))
		if errors.Is(err, pgx.ErrNoRows) {
			return model.E(model.KindNotFound, "version_missing", "version %s not found for asset %s", versionID, assetID)
		}
		if err != nil {
			return model.WrapErr(model.KindInternal, "version_query_failed", err)
		}

		if a.CurrentVersionID == versionID && v.PublishState == model.PublishActive {
			return nil
		}

		if old := a.CurrentVersionID; old != "" && old != versionID {
			if _, err := tx.Exec(ctx,
				`UPDATE asset_versions SET publish_state = $1 WHERE version_id = $2`,
				string(model.PublishArchived), old); err != nil {
				return model.WrapErr(model.KindInternal, "publish_archive_failed", err)
			}
			for _, table := range []string{"transcript_segments", "transcript_embeddings"} {
				if _, err := tx.Exec(ctx,
					`UPDATE `+table+` SET visibility = $1 WHERE version_id = $2 AND visibility = $3`,
					string(model.VisibilityArchived), old, string(model.VisibilityActive)); err != nil {
					return model.WrapErr(model.KindInternal, "publish_archive_failed", err)
				}
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE asset_versions SET publish_state = $1, status = $2 WHERE version_id = $3`,
			string(model.PublishActive), string(model.VersionPublished), versionID); err != nil {
			return model.WrapErr(model.KindInternal, "publish_promote_failed", err)
		}
		for _, table := range []string{"transcript_segments", "transcript_embeddings"} {
			if _, err := tx.Exec(ctx,
				`UPDATE `+table+` SET visibility = $1 WHERE version_id = $2 AND visibility IN ($3, $4)`,
				string(model.VisibilityActive), versionID,
				string(model.VisibilityStaging), string(model.VisibilityArchived)); err != nil {
				return model.WrapErr(model.KindInternal, "publish_promote_failed", err)
			}
		}

		a.CurrentVersionID = versionID
		a.Status = model.AssetIndexed
		a.UpdatedAt = time.Now().UTC()
		return writeAsset(ctx, tx, a)
	})
}

// --- jobs mirror ---

func (s *Store) UpsertJob(ctx context.Context, job *model.Job, status model.JobStatus) error {
	policy, err := json.Marshal(job.EnginePolicy)
	if err != nil {
		return model.WrapErr(model.KindInternal, "job_encode_failed", err)
	}
	_, err = s.pool.Exec(ctx, `
	INSERT INTO transcription_jobs (job_id, asset_id, version_id, idempotency_key, attempt, engine_policy, status, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (job_id) DO UPDATE SET
		attempt = EXCLUDED.attempt,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at`,
		job.JobID, job.AssetID, job.VersionID, job.IdempotencyKey, job.Attempt,
		policy, string(status), time.Now().UTC())
	if err != nil {
		return model.WrapErr(model.KindInternal, "job_write_failed", err)
	}
	return nil
}

func (s *Store) MarkJob(ctx context.Context, jobID string, status model.JobStatus, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
	UPDATE transcription_jobs SET
		status = $1,
		last_error = $2,
		started_at = CASE WHEN $1 = 'RUNNING' THEN $3 ELSE started_at END,
		completed_at = CASE WHEN $1 IN ('COMPLETED', 'FAILED', 'DEAD_LETTER') THEN $3 ELSE completed_at END,
		updated_at = $3
	WHERE job_id = $4`,
		string(status), lastError, time.Now().UTC(), jobID)
	if err != nil {
		return model.WrapErr(model.KindInternal, "job_write_failed", err)
	}
	if tag.RowsAffected() == 0 {
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
	_, err = s.pool.Exec(ctx, `
	INSERT INTO dlq_items (dlq_id, job_id, asset_id, version_id, error_code, error_message, error_retryable, job_data, logs, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		item.DLQID, item.JobID, item.AssetID, item.VersionID, item.ErrorCode, item.ErrorMessage,
		item.ErrorRetryable, jobData, logs, nowUTC(item.CreatedAt))
	if err != nil {
		return model.WrapErr(model.KindInternal, "dlq_write_failed", err)
	}
	return nil
}

func (s *Store) ListDLQByAsset(ctx context.Context, assetID string) ([]*model.DLQItem, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT dlq_id, job_id, asset_id, version_id, error_code, error_message, error_retryable, job_data, logs, created_at
	FROM dlq_items WHERE asset_id = $1 ORDER BY created_at`, assetID)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "dlq_query_failed", err)
	}
	defer rows.Close()

	var out []*model.DLQItem
	for rows.Next() {
		var item model.DLQItem
		var jobData, logs []byte
		if err := rows.Scan(&item.DLQID, &item.JobID, &item.AssetID, &item.VersionID,
			&item.ErrorCode, &item.ErrorMessage, &item.ErrorRetryable, &jobData, &logs, &item.CreatedAt); err != nil {
			return nil, model.WrapErr(model.KindInternal, "dlq_scan_failed", err)
		}
		if len(jobData) > 0 && string(jobData) != "null" {
			var job model.Job
			if err := json.Unmarshal(jobData, &job); err == nil {
				item.Job = &job
			}
		}
		_ = json.Unmarshal(logs, &item.Logs)
		out = append(out, &item)
	}
	return out, rows.Err()
}

func (s *Store) RemoveDLQByAsset(ctx context.Context, assetID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dlq_items WHERE asset_id = $1`, assetID)
	if err != nil {
		return 0, model.WrapErr(model.KindInternal, "dlq_delete_failed", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListQuarantined(ctx context.Context) ([]*model.Asset, error) {
	return s.ListAssetsByStatus(ctx, model.AssetQuarantined)
}

// --- search ---

func (s *Store) SearchKeyword(ctx context.Context, f store.SearchFilter) ([]*store.SearchHit, error) {
	// Candidate rows come from SQL; scoring happens in Go so ranking matches
	// the other adapters exactly.
	rows, err := s.pool.Query(ctx, `
	SELECT seg.segment_id, seg.asset_id, seg.version_id, seg.start_ms, seg.end_ms,
	       seg.text, seg.speaker, seg.created_at, a.bucket, a.object_key
	FROM transcript_segments seg
	JOIN media_assets a
		ON a.asset_id = seg.asset_id
		AND NOT a.tombstone
		AND a.current_version_id = seg.version_id
	WHERE seg.visibility = 'ACTIVE'
		AND ($1 = '' OR a.bucket = $1)
		AND ($2 = '' OR seg.speaker = $2)`,
		f.Bucket, f.Speaker)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "search_query_failed", err)
	}
	defer rows.Close()

	tokens := store.Tokenize(f.Query)
	var hits []*store.SearchHit
	for rows.Next() {
		var hit store.SearchHit
		if err := rows.Scan(&hit.SegmentID, &hit.AssetID, &hit.VersionID, &hit.StartMS, &hit.EndMS,
			&hit.Text, &hit.Speaker, &hit.CreatedAt, &hit.Bucket, &hit.ObjectKey); err != nil {
			return nil, model.WrapErr(model.KindInternal, "search_scan_failed", err)
		}
		if score := store.KeywordScore(hit.Text, tokens); score > 0 {
			hit.Score = score
			hits = append(hits, &hit)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapErr(model.KindInternal, "search_scan_failed", err)
	}
	return store.SortHits(hits, f.Limit), nil
}

func (s *Store) SearchSemantic(ctx context.Context, vector []float32, f store.SearchFilter) ([]*store.SearchHit, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
	SELECT seg.segment_id, seg.asset_id, seg.version_id, seg.start_ms, seg.end_ms,
	       seg.text, seg.speaker, seg.created_at, a.bucket, a.object_key,
	       e.embedding <=> $1::vector AS distance
	FROM transcript_segments seg
	JOIN media_assets a
		ON a.asset_id = seg.asset_id
		AND NOT a.tombstone
		AND a.current_version_id = seg.version_id
	JOIN transcript_embeddings e
		ON e.segment_id = seg.segment_id
		AND e.version_id = seg.version_id
		AND e.visibility = 'ACTIVE'
	WHERE seg.visibility = 'ACTIVE'
		AND ($2 = '' OR a.bucket = $2)
		AND ($3 = '' OR seg.speaker = $3)
	ORDER BY distance
	LIMIT $4`,
		vectorLiteral(vector), f.Bucket, f.Speaker, limit)
	if err != nil {
		return nil, model.WrapErr(model.KindInternal, "search_query_failed", err)
	}
	defer rows.Close()

	var hits []*store.SearchHit
	for rows.Next() {
		var hit store.SearchHit
		var distance float64
		if err := rows.Scan(&hit.SegmentID, &hit.AssetID, &hit.VersionID, &hit.StartMS, &hit.EndMS,
			&hit.Text, &hit.Speaker, &hit.CreatedAt, &hit.Bucket, &hit.ObjectKey, &distance); err != nil {
			return nil, model.WrapErr(model.KindInternal, "search_scan_failed", err)
		}
		hit.Score = store.SemanticScore(distance)
		hits = append(hits, &hit)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapErr(model.KindInternal, "search_scan_failed", err)
	}
	return store.SortHits(hits, f.Limit), nil
}

// --- retention ---

func (s *Store) PurgeArchivedVersions(ctx context.Context, olderThan time.Time) (int, error) {
	var purged int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
		DELETE FROM asset_versions
		WHERE publish_state = $1 AND created_at < $2`,
			string(model.PublishArchived), olderThan.UTC())
		if err != nil {
			return model.WrapErr(model.KindInternal, "purge_delete_failed", err)
		}
		purged = int(tag.RowsAffected())
		return nil
	})
	return purged, err
}
