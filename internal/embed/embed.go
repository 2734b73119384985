// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package embed defines the text embedding port used for semantic search.
package embed

import (
	"context"

	"github.com/ManuGH/mediasearch/internal/model"
)

// Embedder produces fixed-dimension vectors for transcript text. EmbedBatch
// must respect BatchLimit; callers split larger inputs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dimension() int
	BatchLimit() int
}

// CheckDimension validates a vector against the expected dimension, tagging
// mismatches as non-retryable schema errors.
func CheckDimension(vec []float32, want int) error {
	if len(vec) != want {
		return model.E(model.KindEngineConfig, "embedding_dimension_mismatch",
			"embedder returned %d dimensions, expected %d", len(vec), want)
	}
	return nil
}
