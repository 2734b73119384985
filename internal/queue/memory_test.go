// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newJob(id, idem string) *model.Job {
	return &model.Job{
		JobID:          id,
		AssetID:        "a1",
		VersionID:      "v1",
		IdempotencyKey: idem,
		EnqueuedAt:     time.Now().UTC(),
		ScheduledAt:    time.Now().UTC(),
	}
}

func TestMemoryQueue_DeliversJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())

	var processed atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, func(_ context.Context, job *model.Job) error {
			if processed.Add(1) == 2 {
				cancel()
			}
			return nil
		}, 2, time.Second)
	}()

	require.NoError(t, q.Enqueue(ctx, newJob("j1", "a1:v1:0")))
	require.NoError(t, q.Enqueue(ctx, newJob("j2", "a1:v2:0")))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("consume did not finish")
	}
	assert.Equal(t, int32(2), processed.Load())
}

func TestMemoryQueue_IdempotencyKeyDeduplicates(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, newJob("j1", "a1:v1:0")))
	require.NoError(t, q.Enqueue(ctx, newJob("j1-dup", "a1:v1:0")))
	assert.Equal(t, 1, q.Depth())

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, func(_ context.Context, job *model.Job) error {
			mu.Lock()
			got = append(got, job.JobID)
			mu.Unlock()
			cancel()
			return nil
		}, 1, time.Second)
	}()

	<-done
	assert.Equal(t, []string{"j1"}, got)
}

func TestMemoryQueue_DelayedDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	require.NoError(t, q.EnqueueDelayed(ctx, newJob("j1", "a1:v1:1"), 150*time.Millisecond))

	var elapsed time.Duration
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, func(_ context.Context, job *model.Job) error {
			elapsed = time.Since(start)
			cancel()
			return nil
		}, 1, time.Second)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("delayed job never delivered")
	}
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestMemoryQueue_NackRedelivers(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deliveries atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, func(_ context.Context, job *model.Job) error {
			if deliveries.Add(1) == 1 {
				return ErrRequeue
			}
			cancel()
			return nil
		}, 1, time.Second)
	}()

	require.NoError(t, q.Enqueue(ctx, newJob("j1", "a1:v1:0")))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("nacked job never redelivered")
	}
	assert.Equal(t, int32(2), deliveries.Load())
}
