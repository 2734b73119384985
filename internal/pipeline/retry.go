// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/metrics"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/queue"
	"github.com/ManuGH/mediasearch/internal/store"
)

// RetryPolicy bounds the retry schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryManager decides retry vs dead-letter after a job failure and owns the
// operator triage operations.
type RetryManager struct {
	db     store.Store
	jobs   queue.Queue
	policy RetryPolicy
	logger zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRetryManager(db store.Store, jobs queue.Queue, policy RetryPolicy) *RetryManager {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 300 * time.Second
	}
	return &RetryManager{
		db:     db,
		jobs:   jobs,
		policy: policy,
		logger: log.WithComponent("retry"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Backoff computes min(base * 2^attempt, max) with ±25% jitter.
func (m *RetryManager) Backoff(attempt int) time.Duration {
	d := m.policy.BaseDelay
	for i := 0; i < attempt && d < m.policy.MaxDelay; i++ {
		d *= 2
	}
	if d > m.policy.MaxDelay {
		d = m.policy.MaxDelay
	}
	m.mu.Lock()
	jitter := (m.rng.Float64() - 0.5) / 2 // [-0.25, +0.25)
	m.mu.Unlock()
	return d + time.Duration(float64(d)*jitter)
}

// HandleFailure classifies a failed job and either schedules a retry as a
// new job with the attempt incremented, or parks it on the DLQ. The caller
// acks the original delivery either way.
func (m *RetryManager) HandleFailure(ctx context.Context, job *model.Job, cause error) {
	kind := Classify(cause)
	logger := m.logger.With().
		Str(log.FieldJobID, job.JobID).
		Str(log.FieldAssetID, job.AssetID).
		Str(log.FieldVersionID, job.VersionID).
		Int(log.FieldAttempt, job.Attempt).
		Str(log.FieldErrKind, string(kind)).
		Logger()

	if kind.Retryable() && job.Attempt+1 < m.policy.MaxAttempts {
		m.scheduleRetry(ctx, job, cause, kind, logger)
		return
	}
	m.deadLetter(ctx, job, cause, kind, logger)
}

func (m *RetryManager) scheduleRetry(ctx context.Context, job *model.Job, cause error, kind model.Kind, logger zerolog.Logger) {
	next := job.Attempt + 1
	delay := m.Backoff(job.Attempt)

	if _, err := m.db.UpdateAsset(ctx, job.AssetID, func(a *model.Asset) error {
		a.Status = model.AssetPendingRetry
		a.Attempt = next
		a.LastError = cause.Error()
		return nil
	}); err != nil {
		logger.Error().Err(err).Msg("failed to mark asset for retry")
	}

	retry := &model.Job{
		JobID:          uuid.NewString(),
		AssetID:        job.AssetID,
		VersionID:      job.VersionID,
		EnginePolicy:   job.EnginePolicy,
		Attempt:        next,
		IdempotencyKey: model.JobIdempotencyKey(job.AssetID, job.VersionID, next),
	}
	if err := m.db.UpsertJob(ctx, retry, model.JobPending); err != nil {
		logger.Error().Err(err).Msg("failed to mirror retry job")
	}
	if err := m.jobs.EnqueueDelayed(ctx, retry, delay); err != nil {
		// The asset sits in PENDING_RETRY with no job; the redelivery of the
		// original event or an operator retry recovers it.
		logger.Error().Err(err).Msg("failed to enqueue retry")
		return
	}

	metrics.RetriesScheduledTotal.WithLabelValues(string(kind)).Inc()
	logger.Info().Dur("delay", delay).Int("next_attempt", next).Msg("retry scheduled")
}

func (m *RetryManager) deadLetter(ctx context.Context, job *model.Job, cause error, kind model.Kind, logger zerolog.Logger) {
	triage, action := Triage(kind)

	if err := m.jobs.MoveToDLQ(ctx, job, cause); err != nil {
		logger.Error().Err(err).Msg("failed to park job on queue DLQ")
	}
	item := &model.DLQItem{
		DLQID:          uuid.NewString(),
		JobID:          job.JobID,
		AssetID:        job.AssetID,
		VersionID:      job.VersionID,
		ErrorCode:      model.CodeOf(cause),
		ErrorMessage:   cause.Error(),
		ErrorRetryable: kind.Retryable(),
		Job:            job,
		Logs:           []string{cause.Error()},
	}
	if err := m.db.AddDLQItem(ctx, item); err != nil {
		logger.Error().Err(err).Msg("failed to record DLQ item")
	}

	if _, err := m.db.UpdateAsset(ctx, job.AssetID, func(a *model.Asset) error {
		a.Status = model.AssetQuarantined
		a.TriageState = triage
		a.RecommendedAction = action
		a.LastError = cause.Error()
		a.Attempt = job.Attempt + 1
		return nil
	}); err != nil {
		logger.Error().Err(err).Msg("failed to quarantine asset")
	}
	if err := m.db.MarkJob(ctx, job.JobID, model.JobDeadLetter, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to mark job dead-lettered")
	}

	metrics.DLQTotal.WithLabelValues(string(kind)).Inc()
	logger.Warn().Str("triage_state", string(triage)).Msg("job dead-lettered, asset quarantined")
}

// Retry is the operator action on a quarantined asset: a fresh job with
// attempt reset to zero and a new idempotency suffix so the queue does not
// suppress it as a duplicate.
func (m *RetryManager) Retry(ctx context.Context, assetID string) (*model.Job, error) {
	asset, err := m.db.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Tombstone {
		return nil, model.E(model.KindInvalidInput, "asset_deleted", "asset %s is tombstoned", assetID)
	}
	if asset.Status != model.AssetQuarantined {
		return nil, model.E(model.KindInvalidInput, "not_quarantined", "asset %s is %s, not QUARANTINED", assetID, asset.Status)
	}

	items, err := m.db.ListDLQByAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	var policy model.EnginePolicy
	var versionID string
	for _, item := range items {
		if item.Job != nil {
			policy = item.Job.EnginePolicy
			versionID = item.VersionID
		}
	}
	if versionID == "" {
		versions, err := m.db.ListVersions(ctx, assetID)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, model.E(model.KindInvalidInput, "no_versions", "asset %s has no versions to retry", assetID)
		}
		versionID = versions[len(versions)-1].VersionID
		policy = model.EnginePolicy{Engine: asset.TranscriptionEngine}
	}

	job := &model.Job{
		JobID:          uuid.NewString(),
		AssetID:        assetID,
		VersionID:      versionID,
		EnginePolicy:   policy,
		Attempt:        0,
		IdempotencyKey: model.JobIdempotencyKey(assetID, versionID, 0) + ":" + uuid.NewString()[:8],
	}
	if err := m.db.UpsertJob(ctx, job, model.JobPending); err != nil {
		return nil, err
	}
	if err := m.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	if _, err := m.db.UpdateAsset(ctx, assetID, func(a *model.Asset) error {
		a.Status = model.AssetPendingRetry
		a.TriageState = ""
		a.RecommendedAction = ""
		a.LastError = ""
		a.Attempt = 0
		return nil
	}); err != nil {
		return nil, err
	}
	if _, err := m.db.RemoveDLQByAsset(ctx, assetID); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str(log.FieldAssetID, assetID).
		Str(log.FieldVersionID, versionID).
		Str(log.FieldJobID, job.JobID).
		Msg("operator retry enqueued")
	return job, nil
}

// Skip is the operator action that abandons a quarantined asset: terminal
// FAILED, last-error retained, DLQ entries removed.
func (m *RetryManager) Skip(ctx context.Context, assetID string) error {
	asset, err := m.db.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if asset.Status != model.AssetQuarantined {
		return model.E(model.KindInvalidInput, "not_quarantined", "asset %s is %s, not QUARANTINED", assetID, asset.Status)
	}
	if _, err := m.db.UpdateAsset(ctx, assetID, func(a *model.Asset) error {
		a.Status = model.AssetFailed
		return nil
	}); err != nil {
		return err
	}
	if _, err := m.db.RemoveDLQByAsset(ctx, assetID); err != nil {
		return err
	}
	m.logger.Info().Str(log.FieldAssetID, assetID).Msg("operator skipped asset")
	return nil
}
