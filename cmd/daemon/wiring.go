// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ManuGH/mediasearch/internal/asr"
	"github.com/ManuGH/mediasearch/internal/config"
	"github.com/ManuGH/mediasearch/internal/embed"
	"github.com/ManuGH/mediasearch/internal/objstore"
	"github.com/ManuGH/mediasearch/internal/queue"
	"github.com/ManuGH/mediasearch/internal/store"
	"github.com/ManuGH/mediasearch/internal/store/postgres"
	"github.com/ManuGH/mediasearch/internal/store/sqlite"
)

// backendDeps bundles the infrastructure adapters selected by the backend
// setting. Every adapter satisfies the same port regardless of backend, so
// pipeline code never branches on it.
type backendDeps struct {
	db       store.Store
	objects  objstore.Store
	jobs     queue.Queue
	engines  asr.Registry
	embedder embed.Embedder
}

func (d *backendDeps) close(logger zerolog.Logger) {
	if err := d.jobs.Close(); err != nil {
		logger.Warn().Err(err).Msg("queue close failed")
	}
	if err := d.objects.Close(); err != nil {
		logger.Warn().Err(err).Msg("object store close failed")
	}
	if err := d.db.Close(); err != nil {
		logger.Warn().Err(err).Msg("store close failed")
	}
}

func buildBackend(ctx context.Context, cfg config.Config) (*backendDeps, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return buildLocal(cfg)
	case config.BackendProduction:
		return buildProduction(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// buildLocal wires the zero-dependency development stack: filesystem object
// store, embedded SQLite, in-process queue, stub ASR and hashed embeddings.
func buildLocal(cfg config.Config) (*backendDeps, error) {
	objects, err := objstore.NewFSStore(filepath.Join(cfg.DataDir, "objects"))
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	db, err := sqlite.Open(filepath.Join(cfg.DataDir, "mediasearch.db"))
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	engines := asr.Registry{"stub": asr.NewStubEngine()}
	if key := config.ParseString("OPENAI_API_KEY", ""); key != "" {
		model := config.ParseString("MEDIASEARCH_ASR_MODEL", "whisper-1")
		engines["openai"] = asr.NewOpenAIEngine(key, model)
	}

	return &backendDeps{
		db:       db,
		objects:  objects,
		jobs:     queue.NewMemoryQueue(),
		engines:  engines,
		embedder: embed.NewLocalEmbedder(cfg.EmbedDimension, cfg.EmbedBatchLimit),
	}, nil
}

// buildProduction wires S3, Postgres with pgvector, Redis and the OpenAI
// engines. Connection failures surface here so the daemon can fail fast.
func buildProduction(ctx context.Context, cfg config.Config) (*backendDeps, error) {
	objects, err := objstore.NewS3Store(ctx, objstore.S3Config{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		AccessKey:    config.ParseString("MEDIASEARCH_S3_ACCESS_KEY", ""),
		SecretKey:    config.ParseString("MEDIASEARCH_S3_SECRET_KEY", ""),
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.EmbedDimension)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	jobs, err := queue.NewRedisQueue(ctx, queue.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: config.ParseString("REDIS_PASSWORD", ""),
		DB:       config.ParseInt("REDIS_DB", 0),
	})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	apiKey := config.ParseString("OPENAI_API_KEY", "")
	asrModel := config.ParseString("MEDIASEARCH_ASR_MODEL", "whisper-1")
	embedModel := config.ParseString("MEDIASEARCH_EMBED_MODEL", "text-embedding-3-small")

	engines := asr.Registry{
		"stub":   asr.NewStubEngine(),
		"openai": asr.NewOpenAIEngine(apiKey, asrModel),
	}

	var embedder embed.Embedder
	if cfg.SemanticEnabled {
		embedder = embed.NewOpenAIEmbedder(apiKey, embedModel, cfg.EmbedDimension, cfg.EmbedBatchLimit)
	}

	return &backendDeps{
		db:       db,
		objects:  objects,
		jobs:     jobs,
		engines:  engines,
		embedder: embedder,
	}, nil
}
