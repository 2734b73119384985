// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package asr

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/mediasearch/internal/segment"
)

// StubEngine is a deterministic engine for the local backend and tests.
// Without scripting it emits a single segment derived from the media size;
// tests can script failures and fixed results.
type StubEngine struct {
	mu sync.Mutex

	// Fixed, when set, is returned for every successful call.
	Fixed *Result
	// NextErrors are consumed one per call before calls succeed again.
	NextErrors []error

	calls int
}

func NewStubEngine() *StubEngine { return &StubEngine{} }

func (s *StubEngine) Name() string { return "stub" }

func (s *StubEngine) Capabilities() Capabilities {
	return Capabilities{
		Formats:     []string{"wav", "mp3", "aac", "flac", "mp4", "mov", "mxf"},
		Diarization: true,
		Languages:   []string{"en"},
	}
}

func (s *StubEngine) Transcribe(ctx context.Context, media []byte, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if len(s.NextErrors) > 0 {
		err := s.NextErrors[0]
		s.NextErrors = s.NextErrors[1:]
		return nil, err
	}
	if s.Fixed != nil {
		cp := *s.Fixed
		return &cp, nil
	}

	return &Result{
		Segments: []segment.RawSegment{{
			StartMS:    0,
			EndMS:      1000,
			Text:       fmt.Sprintf("stub transcript of %d bytes.", len(media)),
			Confidence: 0.9,
		}},
		DurationMS: 1000,
		Engine:     s.Name(),
	}, nil
}

// Calls reports how many times Transcribe ran (tests).
func (s *StubEngine) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
