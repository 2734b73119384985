// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and validates the environment-driven runtime
// configuration for the mediasearch pipeline.
package config

import (
	"fmt"
	"time"
)

// Backend selects the infrastructure adapters wired at startup.
type Backend string

const (
	BackendLocal      Backend = "local"
	BackendProduction Backend = "production"
)

// Config is the validated runtime configuration.
type Config struct {
	Backend Backend

	// Local backend
	DataDir string

	// Production backend
	DatabaseURL string
	RedisAddr   string
	S3Endpoint  string
	S3Region    string

	// Ingest
	WatchBucket  string
	PollInterval time.Duration

	// Transcription
	ASREngine               string
	DiarizationEnabled      bool
	ExecutionMode           string
	ComputeThresholdSeconds int

	// Embeddings
	SemanticEnabled bool
	EmbedDimension  int
	EmbedBatchLimit int

	// Orchestration
	JobConcurrency int
	JobTimeout     time.Duration

	// Retry policy
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Search
	HybridKeywordWeight  float64
	HybridSemanticWeight float64

	// Retention
	RetentionDays int

	// HTTP
	Listen string
}

// FromEnv builds a Config from the process environment with defaults.
func FromEnv() Config {
	return Config{
		Backend: Backend(ParseString("MEDIASEARCH_BACKEND", string(BackendLocal))),

		DataDir: ParseString("MEDIASEARCH_DATA_DIR", "./data"),

		DatabaseURL: ParseString("DATABASE_URL", ""),
		RedisAddr:   ParseString("REDIS_ADDR", "localhost:6379"),
		S3Endpoint:  ParseString("MEDIASEARCH_S3_ENDPOINT", ""),
		S3Region:    ParseString("MEDIASEARCH_S3_REGION", "us-east-1"),

		WatchBucket:  ParseString("MEDIASEARCH_WATCH_BUCKET", "media"),
		PollInterval: ParseDuration("MEDIASEARCH_POLL_INTERVAL", 10*time.Second),

		ASREngine:               ParseString("MEDIASEARCH_ASR_ENGINE", "stub"),
		DiarizationEnabled:      ParseBool("MEDIASEARCH_DIARIZATION", false),
		ExecutionMode:           ParseString("MEDIASEARCH_EXECUTION_MODE", "standard"),
		ComputeThresholdSeconds: ParseInt("MEDIASEARCH_COMPUTE_THRESHOLD_SECONDS", 600),

		SemanticEnabled: ParseBool("MEDIASEARCH_SEMANTIC_ENABLED", true),
		EmbedDimension:  ParseInt("MEDIASEARCH_EMBED_DIM", 384),
		EmbedBatchLimit: ParseInt("MEDIASEARCH_EMBED_BATCH_LIMIT", 64),

		JobConcurrency: ParseInt("MEDIASEARCH_JOB_CONCURRENCY", 4),
		JobTimeout:     ParseDuration("MEDIASEARCH_JOB_TIMEOUT", 10*time.Minute),

		MaxAttempts:    ParseInt("MEDIASEARCH_MAX_ATTEMPTS", 5),
		RetryBaseDelay: ParseDuration("MEDIASEARCH_RETRY_BASE", time.Second),
		RetryMaxDelay:  ParseDuration("MEDIASEARCH_RETRY_MAX", 300*time.Second),

		HybridKeywordWeight:  ParseFloat("MEDIASEARCH_HYBRID_WK", 0.5),
		HybridSemanticWeight: ParseFloat("MEDIASEARCH_HYBRID_WS", 0.5),

		RetentionDays: ParseInt("MEDIASEARCH_RETENTION_DAYS", 30),

		Listen: ParseString("MEDIASEARCH_LISTEN", ":8080"),
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if c.DataDir == "" {
			return fmt.Errorf("MEDIASEARCH_DATA_DIR is required for the local backend")
		}
	case BackendProduction:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the production backend")
		}
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the production backend")
		}
	default:
		return fmt.Errorf("unknown backend %q (want local or production)", c.Backend)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.EmbedDimension)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.JobConcurrency < 1 {
		return fmt.Errorf("job concurrency must be at least 1, got %d", c.JobConcurrency)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays invalid: base=%s max=%s", c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if c.HybridKeywordWeight < 0 || c.HybridSemanticWeight < 0 {
		return fmt.Errorf("hybrid weights must be non-negative")
	}
	if c.WatchBucket == "" {
		return fmt.Errorf("MEDIASEARCH_WATCH_BUCKET must not be empty")
	}
	return nil
}

// DefaultEnginePolicy derives the engine policy applied to newly ingested
// assets from the configuration.
func (c Config) DefaultEnginePolicy() EnginePolicySeed {
	return EnginePolicySeed{
		Engine:                  c.ASREngine,
		DiarizationEnabled:      c.DiarizationEnabled,
		ExecutionMode:           c.ExecutionMode,
		ComputeThresholdSeconds: c.ComputeThresholdSeconds,
	}
}

// EnginePolicySeed mirrors model.EnginePolicy without importing it; the
// ingest controller translates it. Keeps config free of domain imports.
type EnginePolicySeed struct {
	Engine                  string
	DiarizationEnabled      bool
	ExecutionMode           string
	ComputeThresholdSeconds int
}
