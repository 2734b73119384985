// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalEmbedder is a deterministic hashed bag-of-words embedder for the
// local backend and tests. It is not semantically meaningful, but identical
// text always maps to identical unit vectors, which is what the pipeline's
// idempotency and the search layer's scoring contracts need.
type LocalEmbedder struct {
	dim   int
	batch int
}

// NewLocalEmbedder creates an embedder emitting unit vectors of dim.
// A non-positive batchLimit falls back to 256.
func NewLocalEmbedder(dim, batchLimit int) *LocalEmbedder {
	if dim <= 0 {
		dim = 384
	}
	if batchLimit <= 0 {
		batchLimit = 256
	}
	return &LocalEmbedder{dim: dim, batch: batchLimit}
}

func (e *LocalEmbedder) ModelName() string { return "local-hash" }
func (e *LocalEmbedder) Dimension() int    { return e.dim }
func (e *LocalEmbedder) BatchLimit() int   { return e.batch }

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		idx := int(h.Sum32()) % e.dim
		if idx < 0 {
			idx += e.dim
		}
		vec[idx]++
	}
	normalize(vec)
	return vec, nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		vec[0] = 1 // degenerate input still yields a unit vector
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
