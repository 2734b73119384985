// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ingest turns object store notifications into asset records and
// transcription jobs. Event delivery is at least once; everything here is
// idempotent against redelivery.
package ingest

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/mediasearch/internal/config"
	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/metrics"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/objstore"
	"github.com/ManuGH/mediasearch/internal/queue"
	"github.com/ManuGH/mediasearch/internal/store"
)

// Controller binds an object store bucket to the database and the job queue.
type Controller struct {
	objects objstore.Store
	db      store.Store
	jobs    queue.Queue
	policy  model.EnginePolicy
	bucket  string
	logger  zerolog.Logger
}

func NewController(objects objstore.Store, db store.Store, jobs queue.Queue, bucket string, seed config.EnginePolicySeed) *Controller {
	return &Controller{
		objects: objects,
		db:      db,
		jobs:    jobs,
		bucket:  bucket,
		policy: model.EnginePolicy{
			Engine:                  seed.Engine,
			DiarizationEnabled:      seed.DiarizationEnabled,
			ExecutionMode:           seed.ExecutionMode,
			ComputeThresholdSeconds: seed.ComputeThresholdSeconds,
		},
		logger: log.WithComponent("ingest"),
	}
}

// Run subscribes to the bucket and blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().Str(log.FieldBucket, c.bucket).Msg("watching bucket")
	return c.objects.Subscribe(ctx, c.bucket, c.HandleEvent)
}

// HandleEvent processes one notification. A returned error leaves the event
// eligible for redelivery by the subscription.
func (c *Controller) HandleEvent(ctx context.Context, evt model.ObjectEvent) error {
	switch evt.Type {
	case model.ObjectCreated:
		return c.handleCreated(ctx, evt)
	case model.ObjectRemoved:
		return c.handleRemoved(ctx, evt)
	default:
		c.logger.Warn().Str("event_type", string(evt.Type)).Msg("unknown event type, dropping")
		return nil
	}
}

// supported reports whether the object key carries an accepted media
// extension.
func supported(key string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	_, ok := model.SupportedExtensions[ext]
	return ok
}

func (c *Controller) handleCreated(ctx context.Context, evt model.ObjectEvent) error {
	logger := c.logger.With().
		Str(log.FieldBucket, evt.Bucket).
		Str(log.FieldObjectKey, evt.ObjectKey).
		Logger()

	if !supported(evt.ObjectKey) {
		logger.Debug().Msg("unsupported extension, skipping")
		metrics.IngestEventsTotal.WithLabelValues("created", "skipped").Inc()
		return nil
	}

	// Notifications may omit metadata; the Head call is authoritative.
	if evt.ETag == "" || evt.Size == 0 {
		info, err := c.objects.Head(ctx, evt.Bucket, evt.ObjectKey)
		if err != nil {
			if model.KindOf(err) == model.KindNotFound {
				// Deleted between the event and now; the removal event follows.
				logger.Debug().Msg("object vanished before ingest")
				metrics.IngestEventsTotal.WithLabelValues("created", "skipped").Inc()
				return nil
			}
			metrics.IngestEventsTotal.WithLabelValues("created", "error").Inc()
			return err
		}
		evt.ETag = info.ETag
		evt.Size = info.Size
		evt.ContentType = info.ContentType
		evt.ModTime = info.ModTime
	}

	versionID := model.DeriveVersionID(evt.ETag, evt.Size, evt.ModTime)

	asset := &model.Asset{
		AssetID:             uuid.NewString(),
		LineageID:           uuid.NewString(),
		Bucket:              evt.Bucket,
		ObjectKey:           evt.ObjectKey,
		Status:              model.AssetIngested,
		TranscriptionEngine: c.policy.Engine,
		FileSize:            evt.Size,
		ContentType:         evt.ContentType,
		ETag:                evt.ETag,
	}
	version := &model.AssetVersion{
		VersionID:    versionID,
		Status:       model.VersionIngested,
		PublishState: model.PublishStaging,
		ETag:         evt.ETag,
		FileSize:     evt.Size,
	}

	res, err := c.db.IngestObject(ctx, asset, version)
	if err != nil {
		metrics.IngestEventsTotal.WithLabelValues("created", "error").Inc()
		return err
	}
	logger = logger.With().
		Str(log.FieldAssetID, res.Asset.AssetID).
		Str(log.FieldVersionID, versionID).
		Logger()

	if !res.Created {
		logger.Debug().Msg("version already known")
		metrics.IngestEventsTotal.WithLabelValues("created", "duplicate").Inc()
	}

	// The job ID is derived from the idempotency key so redelivered events
	// upsert the same mirror row, and the queue's idempotent enqueue drops
	// the duplicate delivery. A redelivery after a failed enqueue therefore
	// still gets the job onto the queue.
	idemKey := model.JobIdempotencyKey(res.Asset.AssetID, versionID, 0)
	job := &model.Job{
		JobID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(idemKey)).String(),
		AssetID:        res.Asset.AssetID,
		VersionID:      versionID,
		EnginePolicy:   c.policy,
		Attempt:        0,
		IdempotencyKey: idemKey,
	}
	if res.Created {
		if err := c.db.UpsertJob(ctx, job, model.JobPending); err != nil {
			metrics.IngestEventsTotal.WithLabelValues("created", "error").Inc()
			return err
		}
	}
	if err := c.jobs.Enqueue(ctx, job); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("created", "error").Inc()
		return err
	}

	if res.Created {
		logger.Info().Str(log.FieldJobID, job.JobID).Msg("object ingested, job enqueued")
		metrics.IngestEventsTotal.WithLabelValues("created", "ok").Inc()
	}
	return nil
}

func (c *Controller) handleRemoved(ctx context.Context, evt model.ObjectEvent) error {
	a, err := c.db.TombstoneAsset(ctx, evt.Bucket, evt.ObjectKey)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			// Never ingested (unsupported extension) or already tombstoned.
			metrics.IngestEventsTotal.WithLabelValues("removed", "skipped").Inc()
			return nil
		}
		metrics.IngestEventsTotal.WithLabelValues("removed", "error").Inc()
		return err
	}
	c.logger.Info().
		Str(log.FieldBucket, evt.Bucket).
		Str(log.FieldObjectKey, evt.ObjectKey).
		Str(log.FieldAssetID, a.AssetID).
		Msg("object removed, asset tombstoned")
	metrics.IngestEventsTotal.WithLabelValues("removed", "ok").Inc()
	return nil
}
