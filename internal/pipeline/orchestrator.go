// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline drives queued transcription jobs through fetch, ASR,
// segmentation, embedding and publish, and owns failure routing (retry,
// quarantine, DLQ, triage).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/mediasearch/internal/asr"
	"github.com/ManuGH/mediasearch/internal/embed"
	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/metrics"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/objstore"
	"github.com/ManuGH/mediasearch/internal/queue"
	"github.com/ManuGH/mediasearch/internal/resilience"
	"github.com/ManuGH/mediasearch/internal/segment"
	"github.com/ManuGH/mediasearch/internal/store"
)

// OrchestratorConfig carries the tunables the orchestrator needs beyond its
// collaborators.
type OrchestratorConfig struct {
	SemanticEnabled bool
	EmbedDimension  int
	WindowMS        int64
	Concurrency     int
	JobTimeout      time.Duration
}

// Orchestrator consumes transcription jobs and drives each through the five
// processing phases. Every phase is restartable; a crashed job re-runs from
// the top and converges on the same rows.
type Orchestrator struct {
	db       store.Store
	objects  objstore.Store
	jobs     queue.Queue
	engines  asr.Registry
	embedder embed.Embedder
	pub      *Publisher
	retry    *RetryManager
	breaker  *resilience.CircuitBreaker
	cfg      OrchestratorConfig
	logger   zerolog.Logger
}

func NewOrchestrator(
	db store.Store,
	objects objstore.Store,
	jobs queue.Queue,
	engines asr.Registry,
	embedder embed.Embedder,
	pub *Publisher,
	retry *RetryManager,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.WindowMS <= 0 {
		cfg.WindowMS = segment.DefaultWindowMS
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &Orchestrator{
		db:       db,
		objects:  objects,
		jobs:     jobs,
		engines:  engines,
		embedder: embedder,
		pub:      pub,
		retry:    retry,
		breaker:  resilience.NewCircuitBreaker("downstream", 5, 30*time.Second),
		cfg:      cfg,
		logger:   log.WithComponent("orchestrator"),
	}
}

// Run consumes jobs until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info().
		Int("concurrency", o.cfg.Concurrency).
		Dur("job_timeout", o.cfg.JobTimeout).
		Msg("orchestrator started")
	return o.jobs.Consume(ctx, o.Handle, o.cfg.Concurrency, o.cfg.JobTimeout)
}

// Handle processes one delivery. Failures, timeouts included, are routed
// through the retry manager and then acked, so failed jobs are never
// double-delivered; retries arrive as new jobs with the attempt incremented.
func (o *Orchestrator) Handle(ctx context.Context, job *model.Job) error {
	ctx = log.ContextWithJobID(ctx, job.JobID)
	ctx = log.ContextWithAssetID(ctx, job.AssetID)
	logger := o.logger.With().
		Str(log.FieldJobID, job.JobID).
		Str(log.FieldAssetID, job.AssetID).
		Str(log.FieldVersionID, job.VersionID).
		Int(log.FieldAttempt, job.Attempt).
		Logger()

	start := time.Now()
	err := o.process(ctx, job, logger)
	switch {
	case err == nil:
		metrics.JobsProcessedTotal.WithLabelValues("ok").Inc()
		metrics.ObserveJobDuration(job.EnginePolicy.Engine, time.Since(start))
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		// Wall-clock exceeded: partial work stays uncommitted and the
		// timeout burns one attempt from the retry budget.
		logger.Warn().Msg("job timed out")
		metrics.JobsProcessedTotal.WithLabelValues("timeout").Inc()
		o.retry.HandleFailure(context.WithoutCancel(ctx), job,
			model.E(model.KindTimeout, "job_timeout", "job exceeded wall-clock budget"))
		return nil
	default:
		logger.Error().Err(err).Str(log.FieldErrKind, string(Classify(err))).Msg("job failed")
		metrics.JobsProcessedTotal.WithLabelValues("error").Inc()
		o.retry.HandleFailure(context.WithoutCancel(ctx), job, err)
		return nil
	}
}

func (o *Orchestrator) process(ctx context.Context, job *model.Job, logger zerolog.Logger) error {
	// Phase 1: idempotency gate.
	asset, err := o.db.GetAsset(ctx, job.AssetID)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			// Asset purged under the job; nothing to do.
			logger.Warn().Msg("asset gone, dropping job")
			return nil
		}
		return err
	}
	if asset.Tombstone {
		logger.Info().Msg("asset tombstoned, dropping job")
		return o.db.MarkJob(ctx, job.JobID, model.JobCompleted, "")
	}
	version, err := o.db.GetVersion(ctx, job.VersionID)
	if err != nil {
		return err
	}
	if version.PublishState == model.PublishActive ||
		version.PublishState == model.PublishArchived ||
		version.Status == model.VersionPublished {
		logger.Info().Msg("version already processed, acking")
		return o.db.MarkJob(ctx, job.JobID, model.JobCompleted, "")
	}

	if err := o.db.MarkJob(ctx, job.JobID, model.JobRunning, ""); err != nil {
		logger.Debug().Err(err).Msg("job mirror update failed")
	}

	// Phase 2: fetch + transcribe.
	if _, err := o.db.UpdateAsset(ctx, job.AssetID, func(a *model.Asset) error {
		a.Status = model.AssetTranscribing
		return nil
	}); err != nil {
		return err
	}

	media, err := o.objects.Get(ctx, asset.Bucket, asset.ObjectKey)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return model.E(model.KindMediaFormat, "object_missing",
				"object %s/%s disappeared before transcription", asset.Bucket, asset.ObjectKey)
		}
		return err
	}

	engine, err := o.engines.Lookup(job.EnginePolicy.Engine)
	if err != nil {
		return err
	}

	var result *asr.Result
	if err := o.breaker.Execute(func() error {
		var terr error
		result, terr = engine.Transcribe(ctx, media, asr.Options{
			Policy:         job.EnginePolicy,
			Language:       job.EnginePolicy.Language,
			ContentType:    asset.ContentType,
			DurationHintMS: asset.DurationMS,
		})
		return terr
	}); err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	// Phase 3: segmentation.
	strategy := segment.Select(job.EnginePolicy, result.DurationMS)
	segs := segment.Chunk(strategy, job.AssetID, job.VersionID, result.Segments, result.DurationMS, o.cfg.WindowMS, time.Now().UTC())
	metrics.SegmentsWrittenTotal.WithLabelValues(string(strategy)).Add(float64(len(segs)))

	// Phase 4: embedding.
	var embs []*model.Embedding
	if o.cfg.SemanticEnabled && len(segs) > 0 {
		embs, err = o.embedSegments(ctx, segs)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
	}

	if err := o.db.ReplaceStagingTranscript(ctx, job.AssetID, job.VersionID, segs, embs); err != nil {
		return err
	}
	if _, err := o.db.UpdateAsset(ctx, job.AssetID, func(a *model.Asset) error {
		a.Status = model.AssetTranscribed
		a.TranscriptionEngine = result.Engine
		a.DurationMS = result.DurationMS
		a.LastError = ""
		return nil
	}); err != nil {
		return err
	}
	logger.Info().
		Str(log.FieldStrategy, string(strategy)).
		Int("segments", len(segs)).
		Int("embeddings", len(embs)).
		Msg("transcript staged")

	// Phase 5: publish.
	if err := o.pub.Publish(ctx, job.AssetID, job.VersionID); err != nil {
		return err
	}
	return o.db.MarkJob(ctx, job.JobID, model.JobCompleted, "")
}

// embedSegments batches segment texts through the embedder, respecting its
// batch limit, and validates every vector's dimension.
func (o *Orchestrator) embedSegments(ctx context.Context, segs []*model.Segment) ([]*model.Embedding, error) {
	limit := o.embedder.BatchLimit()
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()

	embs := make([]*model.Embedding, 0, len(segs))
	for offset := 0; offset < len(segs); offset += limit {
		end := offset + limit
		if end > len(segs) {
			end = len(segs)
		}
		batch := segs[offset:end]
		texts := make([]string, len(batch))
		for i, seg := range batch {
			texts[i] = seg.Text
		}

		var vectors [][]float32
		if err := o.breaker.Execute(func() error {
			var berr error
			vectors, berr = o.embedder.EmbedBatch(ctx, texts)
			return berr
		}); err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, model.E(model.KindEngineConfig, "embedding_count_mismatch",
				"embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}
		for i, vec := range vectors {
			if err := embed.CheckDimension(vec, o.cfg.EmbedDimension); err != nil {
				return nil, err
			}
			seg := batch[i]
			embs = append(embs, &model.Embedding{
				EmbeddingID: seg.SegmentID + "_emb",
				AssetID:     seg.AssetID,
				VersionID:   seg.VersionID,
				SegmentID:   seg.SegmentID,
				Vector:      vec,
				Model:       o.embedder.ModelName(),
				Dimension:   o.cfg.EmbedDimension,
				Visibility:  model.VisibilityStaging,
				CreatedAt:   now,
			})
		}
	}
	return embs, nil
}
