// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/queue"
	"github.com/ManuGH/mediasearch/internal/store"
)

func retryFixture(t *testing.T, maxAttempts int) (*store.MemoryStore, *queue.MemoryQueue, *RetryManager) {
	t.Helper()
	db := store.NewMemoryStore()
	jobs := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = jobs.Close() })
	m := NewRetryManager(db, jobs, RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		MaxDelay:    300 * time.Second,
	})
	return db, jobs, m
}

func seedQuarantineCandidate(t *testing.T, db *store.MemoryStore) *model.Job {
	t.Helper()
	res, err := db.IngestObject(context.Background(),
		&model.Asset{AssetID: "a1", Bucket: "media", ObjectKey: "a1.wav", Status: model.AssetTranscribing},
		&model.AssetVersion{VersionID: "v1", Status: model.VersionIngested, PublishState: model.PublishStaging})
	require.NoError(t, err)
	require.True(t, res.Created)
	job := &model.Job{
		JobID:          "j1",
		AssetID:        "a1",
		VersionID:      "v1",
		EnginePolicy:   model.EnginePolicy{Engine: "stub"},
		Attempt:        0,
		IdempotencyKey: model.JobIdempotencyKey("a1", "v1", 0),
	}
	require.NoError(t, db.UpsertJob(context.Background(), job, model.JobRunning))
	return job
}

func TestBackoffBounds(t *testing.T) {
	_, _, m := retryFixture(t, 5)

	for attempt := 0; attempt < 12; attempt++ {
		base := time.Second << uint(attempt)
		if base > 300*time.Second {
			base = 300 * time.Second
		}
		for i := 0; i < 20; i++ {
			d := m.Backoff(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.749), "attempt %d", attempt)
			assert.LessOrEqual(t, d, time.Duration(float64(base)*1.251), "attempt %d", attempt)
		}
	}
}

func TestHandleFailureSchedulesRetry(t *testing.T) {
	db, jobs, m := retryFixture(t, 5)
	job := seedQuarantineCandidate(t, db)
	ctx := context.Background()

	m.HandleFailure(ctx, job, model.E(model.KindTransientNetwork, "conn_reset", "connection reset"))

	a, err := db.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AssetPendingRetry, a.Status)
	assert.Equal(t, 1, a.Attempt)
	assert.Contains(t, a.LastError, "connection reset")

	assert.Equal(t, 1, jobs.Depth(), "a new delayed job must be enqueued")
	assert.Zero(t, jobs.DLQLen())
}

func TestHandleFailureTerminalQuarantines(t *testing.T) {
	db, jobs, m := retryFixture(t, 5)
	job := seedQuarantineCandidate(t, db)
	ctx := context.Background()

	m.HandleFailure(ctx, job, model.E(model.KindMediaFormat, "bad_codec", "unsupported codec h265"))

	a, err := db.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AssetQuarantined, a.Status)
	assert.Equal(t, model.TriageNeedsMediaFix, a.TriageState)
	assert.Contains(t, a.RecommendedAction, "Re-encode")

	items, err := db.ListDLQByAsset(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bad_codec", items[0].ErrorCode)
	assert.False(t, items[0].ErrorRetryable)
	assert.Equal(t, 1, jobs.DLQLen())
	assert.Zero(t, jobs.Depth(), "terminal failures must not schedule retries")

	status, ok := db.JobStatus("j1")
	require.True(t, ok)
	assert.Equal(t, model.JobDeadLetter, status)
}

func TestHandleFailureExhaustedQuarantines(t *testing.T) {
	db, _, m := retryFixture(t, 3)
	job := seedQuarantineCandidate(t, db)
	job.Attempt = 2 // attempt+1 == MaxAttempts
	ctx := context.Background()

	m.HandleFailure(ctx, job, model.E(model.KindTransientNetwork, "unavailable", "service unavailable"))

	a, err := db.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AssetQuarantined, a.Status)
	assert.Equal(t, model.TriageQuarantined, a.TriageState)
	assert.Contains(t, a.RecommendedAction, "retries exhausted")
	assert.Equal(t, 3, a.Attempt)

	items, err := db.ListDLQByAsset(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].ErrorRetryable, "the kind stays retryable even when the budget is spent")
}

func TestOperatorRetry(t *testing.T) {
	db, jobs, m := retryFixture(t, 5)
	job := seedQuarantineCandidate(t, db)
	ctx := context.Background()

	m.HandleFailure(ctx, job, model.E(model.KindEngineConfig, "engine_unknown", "model not found"))

	retried, err := m.Retry(ctx, "a1")
	require.NoError(t, err)
	assert.Zero(t, retried.Attempt)
	assert.Equal(t, "v1", retried.VersionID)
	assert.Equal(t, "stub", retried.EnginePolicy.Engine)
	assert.NotEqual(t, model.JobIdempotencyKey("a1", "v1", 0), retried.IdempotencyKey,
		"operator retries need a fresh idempotency key")

	a, err := db.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AssetPendingRetry, a.Status)
	assert.Empty(t, a.TriageState)
	assert.Empty(t, a.LastError)
	assert.Zero(t, a.Attempt)

	items, err := db.ListDLQByAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, items, "retry clears the DLQ entries")
	assert.Equal(t, 1, jobs.Depth())
}

func TestOperatorRetryRequiresQuarantine(t *testing.T) {
	db, _, m := retryFixture(t, 5)
	seedQuarantineCandidate(t, db)

	_, err := m.Retry(context.Background(), "a1")
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))

	_, err = m.Retry(context.Background(), "missing")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestOperatorSkip(t *testing.T) {
	db, _, m := retryFixture(t, 5)
	job := seedQuarantineCandidate(t, db)
	ctx := context.Background()

	m.HandleFailure(ctx, job, model.E(model.KindPermanentDownstream, "quota", "quota exceeded"))
	require.NoError(t, m.Skip(ctx, "a1"))

	a, err := db.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AssetFailed, a.Status)
	assert.Contains(t, a.LastError, "quota", "skip retains the last error")

	items, err := db.ListDLQByAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.Error(t, m.Skip(ctx, "a1"), "skip on a non-quarantined asset is rejected")
}
