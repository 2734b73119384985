// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package objstore defines the object store port consumed by the pipeline
// and its filesystem and S3 adapters.
package objstore

import (
	"context"
	"time"

	"github.com/ManuGH/mediasearch/internal/model"
)

// ObjectInfo is the authoritative metadata for a stored object.
type ObjectInfo struct {
	Bucket      string
	Key         string
	ETag        string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// EventHandler receives object notifications. Delivery is at least once;
// handlers must be idempotent. A returned error leaves the event eligible
// for redelivery.
type EventHandler func(ctx context.Context, evt model.ObjectEvent) error

// Store is the object store port. Implementations must treat (bucket, key)
// as the object identity and surface missing objects as KindNotFound errors.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Head(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
	PresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)

	// Subscribe blocks until ctx is done, delivering created/removed events
	// for the bucket to the handler. The seen-object state is process-local;
	// after a restart previously seen objects are redelivered as created
	// events and absorbed by the idempotent version derivation downstream.
	Subscribe(ctx context.Context, bucket string, h EventHandler) error

	Close() error
}
