// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/mediasearch/internal/model"
	"golang.org/x/sync/errgroup"
)

// MemoryQueue is an in-process queue for the local backend and unit tests.
// It honours the same contract as the Redis adapter: FIFO-ish delivery,
// delayed scheduling, and idempotency-key dedupe.
type MemoryQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []*model.Job
	delayed []delayedJob
	idem    map[string]bool
	dlq     []*model.Job
	closed  bool
}

type delayedJob struct {
	job     *model.Job
	readyAt time.Time
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{idem: make(map[string]bool)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *model.Job) error {
	return q.EnqueueDelayed(ctx, job, 0)
}

func (q *MemoryQueue) EnqueueDelayed(ctx context.Context, job *model.Job, delay time.Duration) error {
	if job == nil || job.JobID == "" {
		return model.E(model.KindInvalidInput, "bad_job", "job id required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue closed")
	}
	if job.IdempotencyKey != "" {
		if q.idem[job.IdempotencyKey] {
			return nil // duplicate enqueue is a no-op
		}
		q.idem[job.IdempotencyKey] = true
	}
	if delay <= 0 {
		q.pending = append(q.pending, job)
		q.cond.Signal()
	} else {
		q.delayed = append(q.delayed, delayedJob{job: job, readyAt: time.Now().Add(delay)})
	}
	return nil
}

// promote moves due delayed jobs into pending. Caller must hold the lock.
func (q *MemoryQueue) promote(now time.Time) {
	if len(q.delayed) == 0 {
		return
	}
	var remaining []delayedJob
	sort.Slice(q.delayed, func(i, j int) bool { return q.delayed[i].readyAt.Before(q.delayed[j].readyAt) })
	for _, d := range q.delayed {
		if d.readyAt.After(now) {
			remaining = append(remaining, d)
			continue
		}
		q.pending = append(q.pending, d.job)
		q.cond.Signal()
	}
	q.delayed = remaining
}

// pop blocks until a job is pending or ctx is done.
func (q *MemoryQueue) pop(ctx context.Context) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		q.promote(time.Now())
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			return job, nil
		}
		if q.closed {
			return nil, errors.New("queue closed")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.cond.Wait()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, h Handler, concurrency int, perJobTimeout time.Duration) error {
	if concurrency < 1 {
		concurrency = 1
	}

	// Wake blocked workers on cancellation and tick the delayed set.
	wakeDone := make(chan struct{})
	go func() {
		defer close(wakeDone)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				q.cond.Broadcast()
				return
			case <-ticker.C:
				q.cond.Broadcast()
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				job, err := q.pop(gctx)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					return err
				}
				q.dispatch(gctx, h, job, perJobTimeout)
			}
		})
	}
	err := g.Wait()
	<-wakeDone
	return err
}

func (q *MemoryQueue) dispatch(ctx context.Context, h Handler, job *model.Job, perJobTimeout time.Duration) {
	jctx := ctx
	var cancel context.CancelFunc
	if perJobTimeout > 0 {
		jctx, cancel = context.WithTimeout(ctx, perJobTimeout)
		defer cancel()
	}
	if err := h(jctx, job); errors.Is(err, ErrRequeue) {
		// Nack: return to pending for redelivery.
		q.mu.Lock()
		q.pending = append(q.pending, job)
		q.cond.Signal()
		q.mu.Unlock()
	}
}

func (q *MemoryQueue) MoveToDLQ(ctx context.Context, job *model.Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq = append(q.dlq, job)
	return nil
}

// Pop removes and returns the next ready job, polling the delayed set until
// one is due or ctx expires. Test hook; production consumers use Consume.
func (q *MemoryQueue) Pop(ctx context.Context) (*model.Job, error) {
	for {
		q.mu.Lock()
		q.promote(time.Now())
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return job, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, errors.New("queue closed")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// DLQLen reports the number of parked jobs (tests).
func (q *MemoryQueue) DLQLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq)
}

// Depth reports pending + delayed jobs (tests).
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.delayed)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}
