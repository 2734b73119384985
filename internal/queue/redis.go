// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	keyPending    = "ms:jobs:pending"
	keyProcessing = "ms:jobs:processing"
	keyDelayed    = "ms:jobs:delayed"
	keyDLQ        = "ms:jobs:dlq"
	keyIdemPrefix = "ms:jobs:idem:"

	idemTTL         = 24 * time.Hour
	promoteInterval = 250 * time.Millisecond
	popTimeout      = time.Second
)

// RedisQueue is the production queue adapter: a Redis list as the pending
// FIFO, a sorted set for delayed delivery, and a processing list giving
// at-least-once semantics (ack removes the in-flight payload, nack returns
// it to pending).
type RedisQueue struct {
	client *redis.Client
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisQueue connects and verifies the Redis backend.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, model.WrapErr(model.KindTransientNetwork, "queue_unavailable", err)
	}

	logger := log.WithComponent("queue.redis")
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis queue")
	return &RedisQueue{client: client}, nil
}

// NewRedisQueueFromClient wraps an existing client (tests with miniredis).
func NewRedisQueueFromClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *model.Job) error {
	return q.EnqueueDelayed(ctx, job, 0)
}

func (q *RedisQueue) EnqueueDelayed(ctx context.Context, job *model.Job, delay time.Duration) error {
	if job == nil || job.JobID == "" {
		return model.E(model.KindInvalidInput, "bad_job", "job id required")
	}

	if job.IdempotencyKey != "" {
		ok, err := q.client.SetNX(ctx, keyIdemPrefix+job.IdempotencyKey, job.JobID, idemTTL).Result()
		if err != nil {
			return model.WrapErr(model.KindTransientNetwork, "queue_unavailable", err)
		}
		if !ok {
			return nil // duplicate enqueue is a no-op
		}
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return model.WrapErr(model.KindInternal, "job_encode_failed", err)
	}

	if delay <= 0 {
		err = q.client.LPush(ctx, keyPending, payload).Err()
	} else {
		err = q.client.ZAdd(ctx, keyDelayed, redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: payload,
		}).Err()
	}
	if err != nil {
		return model.WrapErr(model.KindTransientNetwork, "queue_unavailable", err)
	}
	return nil
}

// promoteDue moves due delayed payloads into the pending list.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.client.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil || len(members) == 0 {
		return err
	}
	pipe := q.client.TxPipeline()
	for _, m := range members {
		pipe.ZRem(ctx, keyDelayed, m)
		pipe.LPush(ctx, keyPending, m)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Consume(ctx context.Context, h Handler, concurrency int, perJobTimeout time.Duration) error {
	if concurrency < 1 {
		concurrency = 1
	}
	logger := log.WithComponent("queue.redis")

	g, gctx := errgroup.WithContext(ctx)

	// Single promoter for the delayed set.
	g.Go(func() error {
		ticker := time.NewTicker(promoteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if err := q.promoteDue(gctx); err != nil && gctx.Err() == nil {
					logger.Warn().Err(err).Msg("delayed job promotion failed")
				}
			}
		}
	})

	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				payload, err := q.client.BLMove(gctx, keyPending, keyProcessing, "RIGHT", "LEFT", popTimeout).Result()
				if errors.Is(err, redis.Nil) {
					continue
				}
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn().Err(err).Msg("queue pop failed")
					continue
				}

				var job model.Job
				if err := json.Unmarshal([]byte(payload), &job); err != nil {
					logger.Error().Err(err).Msg("dropping undecodable job payload")
					q.client.LRem(context.WithoutCancel(gctx), keyProcessing, 1, payload)
					continue
				}

				q.dispatch(gctx, h, &job, payload, perJobTimeout)
			}
		})
	}
	return g.Wait()
}

func (q *RedisQueue) dispatch(ctx context.Context, h Handler, job *model.Job, payload string, perJobTimeout time.Duration) {
	jctx := ctx
	var cancel context.CancelFunc
	if perJobTimeout > 0 {
		jctx, cancel = context.WithTimeout(ctx, perJobTimeout)
		defer cancel()
	}

	err := h(jctx, job)

	// Ack/nack must survive handler context expiry.
	ackCtx := context.WithoutCancel(ctx)
	if errors.Is(err, ErrRequeue) {
		pipe := q.client.TxPipeline()
		pipe.LRem(ackCtx, keyProcessing, 1, payload)
		pipe.LPush(ackCtx, keyPending, payload)
		_, _ = pipe.Exec(ackCtx)
		return
	}
	q.client.LRem(ackCtx, keyProcessing, 1, payload)
}

func (q *RedisQueue) MoveToDLQ(ctx context.Context, job *model.Job, cause error) error {
	entry := map[string]any{
		"job":   job,
		"error": cause.Error(),
		"at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return model.WrapErr(model.KindInternal, "job_encode_failed", err)
	}
	if err := q.client.LPush(ctx, keyDLQ, payload).Err(); err != nil {
		return model.WrapErr(model.KindTransientNetwork, "queue_unavailable", err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
