// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue defines the delayed-delivery FIFO job queue port and its
// in-memory and Redis adapters.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/mediasearch/internal/model"
)

// ErrRequeue signals from a handler that the delivery should be nacked and
// returned to pending instead of acknowledged. Handlers use it when the
// failure is environmental (worker shutdown mid-job) rather than the job's.
var ErrRequeue = errors.New("requeue delivery")

// Handler processes one delivered job. Returning nil or any error other than
// ErrRequeue acknowledges the delivery; the pipeline schedules retries as new
// jobs rather than re-delivering failed ones.
type Handler func(ctx context.Context, job *model.Job) error

// Queue is the job queue port.
//
// Delivery is at least once and unordered; duplicate suppression rides on the
// job idempotency key: a second enqueue with an already-known key is a no-op.
type Queue interface {
	Enqueue(ctx context.Context, job *model.Job) error
	EnqueueDelayed(ctx context.Context, job *model.Job, delay time.Duration) error

	// Consume blocks until ctx is done, running up to concurrency handlers
	// at a time. Each delivery gets a child context bounded by perJobTimeout.
	Consume(ctx context.Context, h Handler, concurrency int, perJobTimeout time.Duration) error

	// MoveToDLQ parks the raw job payload on the substrate's dead-letter
	// channel. The canonical DLQ record lives in the database; this keeps the
	// queue's view consistent for substrate-level tooling.
	MoveToDLQ(ctx context.Context, job *model.Job, cause error) error

	Close() error
}
