// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediasearch/internal/model"
)

func TestLocalEmbedder_DeterministicUnitVectors(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder(64, 0)

	a, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.NoError(t, CheckDimension(a, 64))

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	c, err := e.Embed(ctx, "completely different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestLocalEmbedder_SimilarTextIsCloser(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder(128, 0)

	base, _ := e.Embed(ctx, "the quick brown fox")
	near, _ := e.Embed(ctx, "the quick brown fox jumps")
	far, _ := e.Embed(ctx, "entirely unrelated sentence about databases")

	assert.Greater(t, dot(base, near), dot(base, far))
}

func TestLocalEmbedder_EmptyText(t *testing.T) {
	e := NewLocalEmbedder(16, 0)
	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, CheckDimension(vec, 16))

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.False(t, math.IsNaN(norm))
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestCheckDimension(t *testing.T) {
	assert.NoError(t, CheckDimension(make([]float32, 384), 384))
	assert.Error(t, CheckDimension(make([]float32, 383), 384))
}

func TestLocalEmbedder_Batch(t *testing.T) {
	e := NewLocalEmbedder(32, 0)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.NoError(t, CheckDimension(v, 32))
	}
}

func TestEmbedderBatchLimitConfigurable(t *testing.T) {
	assert.Equal(t, 16, NewLocalEmbedder(32, 16).BatchLimit())
	assert.Equal(t, 256, NewLocalEmbedder(32, 0).BatchLimit(), "non-positive limit falls back")

	oe := NewOpenAIEmbedder("test-key", "", 384, 8)
	assert.Equal(t, 8, oe.BatchLimit())
	assert.Equal(t, 64, NewOpenAIEmbedder("test-key", "", 384, 0).BatchLimit())

	// Oversize batches are rejected at the configured limit, before any
	// request is attempted.
	_, err := oe.EmbedBatch(context.Background(), make([]string, 9))
	require.Error(t, err)
	assert.Equal(t, "batch_too_large", model.CodeOf(err))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
