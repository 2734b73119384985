// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// The daemon runs the full mediasearch pipeline: object-store watcher,
// transcription workers, retention sweeper and the HTTP API, wired for
// either the local or the production backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/mediasearch/internal/api"
	"github.com/ManuGH/mediasearch/internal/config"
	"github.com/ManuGH/mediasearch/internal/ingest"
	mslog "github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/pipeline"
	"github.com/ManuGH/mediasearch/internal/search"
)

var (
	version   = "v2.0.1"
	commit    = "none"
	buildDate = "unknown"
)

// sysexits-style codes so orchestration layers can distinguish failures.
const (
	exitOK          = 0
	exitUsage       = 64
	exitUnavailable = 69
	exitConfig      = 78
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	envFile := flag.String("env-file", "", "optional .env file loaded before reading the environment")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		return exitOK
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "cannot load env file %s: %v\n", *envFile, err)
			return exitUsage
		}
	} else {
		// Best effort: a .env in the working directory is a convenience,
		// not a requirement.
		_ = godotenv.Load()
	}

	mslog.Configure(mslog.Config{
		Service: "mediasearch",
		Version: version,
	})
	logger := mslog.WithComponent("daemon")

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration rejected")
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("backend", string(cfg.Backend)).
		Str("listen", cfg.Listen).
		Str(mslog.FieldBucket, cfg.WatchBucket).
		Bool("semantic", cfg.SemanticEnabled).
		Msg("starting mediasearch")

	deps, err := buildBackend(ctx, cfg)
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "startup.backend_failed").
			Msg("backend wiring failed")
		return exitUnavailable
	}
	defer deps.close(logger)

	retry := pipeline.NewRetryManager(deps.db, deps.jobs, pipeline.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	})
	pub := pipeline.NewPublisher(deps.db)
	orch := pipeline.NewOrchestrator(deps.db, deps.objects, deps.jobs, deps.engines, deps.embedder, pub, retry,
		pipeline.OrchestratorConfig{
			SemanticEnabled: cfg.SemanticEnabled,
			EmbedDimension:  cfg.EmbedDimension,
			Concurrency:     cfg.JobConcurrency,
			JobTimeout:      cfg.JobTimeout,
		})
	controller := ingest.NewController(deps.objects, deps.db, deps.jobs, cfg.WatchBucket, cfg.DefaultEnginePolicy())

	searchSvc := search.NewService(deps.db, deps.embedder, cfg.SemanticEnabled, search.HybridDefaults{
		KeywordWeight:  cfg.HybridKeywordWeight,
		SemanticWeight: cfg.HybridSemanticWeight,
	})
	apiSrv := api.New(api.Options{
		Listen:       cfg.Listen,
		RateLimitRPS: config.ParseInt("MEDIASEARCH_RATE_LIMIT_RPS", 0),
	}, deps.db, searchSvc, retry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(apiSrv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return apiSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return runRetention(gctx, deps, cfg) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error().
			Err(err).
			Str("event", "daemon.failed").
			Msg("pipeline terminated")
		return exitUnavailable
	}

	logger.Info().Str("event", "shutdown").Msg("daemon exiting")
	return exitOK
}

// runRetention purges ARCHIVED version rows past the retention window once
// per sweep interval. ACTIVE and SOFT_DELETED rows are never touched.
func runRetention(ctx context.Context, deps *backendDeps, cfg config.Config) error {
	if cfg.RetentionDays <= 0 {
		<-ctx.Done()
		return nil
	}
	logger := mslog.WithComponent("retention")
	interval := config.ParseDuration("MEDIASEARCH_RETENTION_SWEEP", time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
			purged, err := deps.db.PurgeArchivedVersions(ctx, cutoff)
			if err != nil {
				logger.Error().Err(err).Msg("retention sweep failed")
				continue
			}
			if purged > 0 {
				logger.Info().
					Int("purged", purged).
					Time("cutoff", cutoff).
					Msg("archived versions purged")
			}
		}
	}
}
