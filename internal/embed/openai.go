// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package embed

import (
	"context"
	"errors"

	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbedder calls the OpenAI embeddings API with an explicit output
// dimension so the vector schema stays stable regardless of model defaults.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dim    int
	batch  int
}

// NewOpenAIEmbedder builds the embedder; apiKey falls back to the SDK's
// environment lookup when empty. A non-positive batchLimit falls back to 64.
func NewOpenAIEmbedder(apiKey, modelName string, dim, batchLimit int) *OpenAIEmbedder {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if modelName == "" {
		modelName = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if dim <= 0 {
		dim = 384
	}
	if batchLimit <= 0 {
		batchLimit = 64
	}
	return &OpenAIEmbedder{client: openai.NewClient(opts...), model: modelName, dim: dim, batch: batchLimit}
}

func (e *OpenAIEmbedder) ModelName() string { return e.model }
func (e *OpenAIEmbedder) Dimension() int    { return e.dim }
func (e *OpenAIEmbedder) BatchLimit() int   { return e.batch }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > e.BatchLimit() {
		return nil, model.E(model.KindInvalidInput, "batch_too_large",
			"batch of %d exceeds limit %d", len(texts), e.BatchLimit())
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dim)),
	})
	if err != nil {
		return nil, classifyEmbedError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, model.E(model.KindPermanentDownstream, "embedding_count_mismatch",
			"embedder returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if err := CheckDimension(vec, e.dim); err != nil {
			return nil, err
		}
		out[d.Index] = vec
	}
	return out, nil
}

func classifyEmbedError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401, apiErr.StatusCode == 403:
			return model.WrapErr(model.KindPermanentDownstream, "embed_unauthorized", err)
		case apiErr.StatusCode == 400, apiErr.StatusCode == 404:
			return model.WrapErr(model.KindEngineConfig, "embed_bad_request", err)
		case apiErr.StatusCode == 429:
			return model.WrapErr(model.KindTransientNetwork, "embed_rate_limited", err)
		case apiErr.StatusCode >= 500:
			return model.WrapErr(model.KindTransientResource, "embed_unavailable", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.WrapErr(model.KindTimeout, "embed_timeout", err)
	}
	return model.WrapErr(model.KindTransientNetwork, "embed_unreachable", err)
}
