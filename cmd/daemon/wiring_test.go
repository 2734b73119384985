// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediasearch/internal/config"
	mslog "github.com/ManuGH/mediasearch/internal/log"
)

func TestBuildLocalBackend(t *testing.T) {
	cfg := config.Config{
		Backend:         config.BackendLocal,
		DataDir:         t.TempDir(),
		EmbedDimension:  8,
		EmbedBatchLimit: 32,
	}
	deps, err := buildLocal(cfg)
	require.NoError(t, err)
	defer deps.close(mslog.WithComponent("test"))

	assert.NotNil(t, deps.db)
	assert.NotNil(t, deps.objects)
	assert.NotNil(t, deps.jobs)
	require.NotNil(t, deps.embedder)
	assert.Equal(t, 32, deps.embedder.BatchLimit())

	_, err = deps.engines.Lookup("stub")
	assert.NoError(t, err)
	_, err = deps.engines.Lookup("nope")
	assert.Error(t, err)
}

func TestBuildBackendRejectsUnknown(t *testing.T) {
	_, err := buildBackend(context.Background(), config.Config{Backend: "cloudless"})
	assert.Error(t, err)
}

func TestRetentionStopsOnCancel(t *testing.T) {
	cfg := config.Config{
		Backend:        config.BackendLocal,
		DataDir:        t.TempDir(),
		EmbedDimension: 8,
		RetentionDays:  1,
	}
	deps, err := buildLocal(cfg)
	require.NoError(t, err)
	defer deps.close(mslog.WithComponent("test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runRetention(ctx, deps, cfg) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("retention loop did not stop on cancel")
	}
}
