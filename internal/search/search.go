// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package search is the query layer over published transcripts: keyword,
// semantic and hybrid modes, all bound to ACTIVE rows of each asset's
// current version.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/mediasearch/internal/embed"
	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/metrics"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/store"
)

const (
	// MaxLimit is the hard cap on page size.
	MaxLimit     = 100
	DefaultLimit = 20
)

// Request is a single search call.
type Request struct {
	Query   string
	Mode    model.MatchType
	Bucket  string
	Speaker string
	Limit   int
	Offset  int
	// KeywordWeight and SemanticWeight fuse hybrid scores. Zero values fall
	// back to an even split.
	KeywordWeight  float64
	SemanticWeight float64
}

// Hit is one result row.
type Hit struct {
	AssetID   string          `json:"asset_id"`
	VersionID string          `json:"version_id"`
	SegmentID string          `json:"segment_id"`
	StartMS   int64           `json:"start_ms"`
	EndMS     int64           `json:"end_ms"`
	Text      string          `json:"text"`
	Speaker   string          `json:"speaker,omitempty"`
	Score     float64         `json:"score"`
	MatchType model.MatchType `json:"match_type"`
	Bucket    string          `json:"bucket"`
	ObjectKey string          `json:"object_key"`
}

// HybridDefaults are the operator-configured fusion weights applied when a
// request does not carry its own.
type HybridDefaults struct {
	KeywordWeight  float64
	SemanticWeight float64
}

// Service executes searches against the store's primitives.
type Service struct {
	db       store.Store
	embedder embed.Embedder
	semantic bool
	defaults HybridDefaults
	logger   zerolog.Logger
}

// NewService wires the query layer. embedder may be nil when semantic search
// is disabled; semantic and hybrid requests then fail with INVALID_INPUT.
// Zero defaults fall back to an even 0.5/0.5 split.
func NewService(db store.Store, embedder embed.Embedder, semanticEnabled bool, defaults HybridDefaults) *Service {
	if defaults.KeywordWeight == 0 && defaults.SemanticWeight == 0 {
		defaults = HybridDefaults{KeywordWeight: 0.5, SemanticWeight: 0.5}
	}
	return &Service{
		db:       db,
		embedder: embedder,
		semantic: semanticEnabled && embedder != nil,
		defaults: defaults,
		logger:   log.WithComponent("search"),
	}
}

// Search validates and dispatches the request.
func (s *Service) Search(ctx context.Context, req Request) ([]*Hit, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, model.E(model.KindInvalidInput, "empty_query", "query must not be empty")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	if req.Mode == "" {
		req.Mode = model.MatchKeyword
	}

	start := time.Now()
	defer func() {
		metrics.ObserveSearchDuration(string(req.Mode), time.Since(start))
	}()
	s.logger.Debug().
		Str("mode", string(req.Mode)).
		Int("limit", req.Limit).
		Int("offset", req.Offset).
		Msg("executing search")

	switch req.Mode {
	case model.MatchKeyword:
		return s.keyword(ctx, req)
	case model.MatchSemantic:
		return s.semanticSearch(ctx, req)
	case model.MatchHybrid:
		return s.hybrid(ctx, req)
	default:
		return nil, model.E(model.KindInvalidInput, "bad_mode", "unknown search mode %q", req.Mode)
	}
}

// fetchLimit over-fetches so pagination by offset still has rows to cut.
func fetchLimit(req Request) int {
	return req.Offset + req.Limit
}

func paginate(hits []*Hit, req Request) []*Hit {
	if req.Offset >= len(hits) {
		return nil
	}
	hits = hits[req.Offset:]
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits
}

func fromStoreHit(h *store.SearchHit, mode model.MatchType) *Hit {
	return &Hit{
		AssetID:   h.AssetID,
		VersionID: h.VersionID,
		SegmentID: h.SegmentID,
		StartMS:   h.StartMS,
		EndMS:     h.EndMS,
		Text:      h.Text,
		Speaker:   h.Speaker,
		Score:     h.Score,
		MatchType: mode,
		Bucket:    h.Bucket,
		ObjectKey: h.ObjectKey,
	}
}

func (s *Service) keyword(ctx context.Context, req Request) ([]*Hit, error) {
	rows, err := s.db.SearchKeyword(ctx, store.SearchFilter{
		Query:   req.Query,
		Bucket:  req.Bucket,
		Speaker: req.Speaker,
		Limit:   fetchLimit(req),
	})
	if err != nil {
		return nil, err
	}
	hits := make([]*Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, fromStoreHit(r, model.MatchKeyword))
	}
	return paginate(hits, req), nil
}

func (s *Service) queryVector(ctx context.Context, query string) ([]float32, error) {
	if !s.semantic {
		return nil, model.E(model.KindInvalidInput, "semantic_disabled", "semantic search is not enabled")
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := embed.CheckDimension(vec, s.embedder.Dimension()); err != nil {
		return nil, err
	}
	return vec, nil
}

func (s *Service) semanticSearch(ctx context.Context, req Request) ([]*Hit, error) {
	vec, err := s.queryVector(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.SearchSemantic(ctx, vec, store.SearchFilter{
		Bucket:  req.Bucket,
		Speaker: req.Speaker,
		Limit:   fetchLimit(req),
	})
	if err != nil {
		return nil, err
	}
	hits := make([]*Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, fromStoreHit(r, model.MatchSemantic))
	}
	return paginate(hits, req), nil
}

// hybrid fuses keyword and semantic hits per segment. Keyword scores are
// occurrence counts, so they are normalized against the page's maximum
// before weighting; semantic scores are already in [0, 1].
func (s *Service) hybrid(ctx context.Context, req Request) ([]*Hit, error) {
	vec, err := s.queryVector(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	wk, ws := req.KeywordWeight, req.SemanticWeight
	if wk == 0 && ws == 0 {
		wk, ws = s.defaults.KeywordWeight, s.defaults.SemanticWeight
	}

	// Both sources fetch wide so fusion sees every candidate either mode
	// would have returned.
	kwRows, err := s.db.SearchKeyword(ctx, store.SearchFilter{
		Query:   req.Query,
		Bucket:  req.Bucket,
		Speaker: req.Speaker,
		Limit:   MaxLimit,
	})
	if err != nil {
		return nil, err
	}
	semRows, err := s.db.SearchSemantic(ctx, vec, store.SearchFilter{
		Bucket:  req.Bucket,
		Speaker: req.Speaker,
		Limit:   MaxLimit,
	})
	if err != nil {
		return nil, err
	}

	var maxKeyword float64
	for _, r := range kwRows {
		if r.Score > maxKeyword {
			maxKeyword = r.Score
		}
	}

	type fused struct {
		hit         *Hit
		rawKeyword  float64
		rawSemantic float64
		inKeyword   bool
		inSemantic  bool
	}
	bySegment := make(map[string]*fused)

	for _, r := range kwRows {
		bySegment[r.SegmentID] = &fused{
			hit:        fromStoreHit(r, model.MatchKeyword),
			rawKeyword: r.Score,
			inKeyword:  true,
		}
	}
	for _, r := range semRows {
		if f, ok := bySegment[r.SegmentID]; ok {
			f.rawSemantic = r.Score
			f.inSemantic = true
			f.hit.MatchType = model.MatchHybrid
			continue
		}
		bySegment[r.SegmentID] = &fused{
			hit:         fromStoreHit(r, model.MatchSemantic),
			rawSemantic: r.Score,
			inSemantic:  true,
		}
	}

	out := make([]*fused, 0, len(bySegment))
	for _, f := range bySegment {
		var score float64
		if f.inKeyword && maxKeyword > 0 {
			score += wk * (f.rawKeyword / maxKeyword)
		}
		if f.inSemantic {
			score += ws * f.rawSemantic
		}
		f.hit.Score = score
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].hit.Score != out[j].hit.Score {
			return out[i].hit.Score > out[j].hit.Score
		}
		if out[i].rawSemantic != out[j].rawSemantic {
			return out[i].rawSemantic > out[j].rawSemantic
		}
		if out[i].rawKeyword != out[j].rawKeyword {
			return out[i].rawKeyword > out[j].rawKeyword
		}
		return out[i].hit.SegmentID < out[j].hit.SegmentID
	})

	hits := make([]*Hit, len(out))
	for i, f := range out {
		hits[i] = f.hit
	}
	return paginate(hits, req), nil
}
