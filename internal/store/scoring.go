// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Tokenize lowercases and splits a query into word tokens.
func Tokenize(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// KeywordScore counts occurrences of all query tokens in the text,
// case-insensitive. All adapters score with this one function so ranking is
// identical regardless of backend.
func KeywordScore(text string, tokens []string) float64 {
	lower := strings.ToLower(text)
	var score float64
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		score += float64(strings.Count(lower, tok))
	}
	return score
}

// CosineDistance computes 1 - cosine similarity. Zero vectors are treated as
// maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// SemanticScore converts a cosine distance into a [0, 1] score.
func SemanticScore(distance float64) float64 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// SortHits orders hits by score descending with creation time (newest first)
// and segment ID as deterministic tie-breaks, then truncates to limit.
func SortHits(hits []*SearchHit, limit int) []*SearchHit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].SegmentID < hits[j].SegmentID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
