// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package asr defines the speech-recognition engine port.
package asr

import (
	"context"

	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/segment"
)

// Options carries per-call transcription parameters derived from the job's
// engine policy plus media hints.
type Options struct {
	Policy         model.EnginePolicy
	Language       string
	ContentType    string
	DurationHintMS int64
}

// Result is the raw engine output before re-segmentation.
type Result struct {
	Segments   []segment.RawSegment
	DurationMS int64
	Engine     string
}

// Capabilities describes what an engine supports; the orchestrator rejects
// jobs the selected engine cannot serve before spending compute on them.
type Capabilities struct {
	Formats       []string
	Diarization   bool
	MaxDurationMS int64
	Languages     []string
}

// Engine is the ASR port. Transcribe must return errors tagged with the
// pipeline taxonomy (model.Kind) so retry classification stays deterministic.
type Engine interface {
	Transcribe(ctx context.Context, media []byte, opts Options) (*Result, error)
	Capabilities() Capabilities
	Name() string
}

// Registry is a named set of engines; jobs select by policy.
type Registry map[string]Engine

// Lookup resolves the engine for a policy, or an ENGINE_CONFIG error.
func (r Registry) Lookup(name string) (Engine, error) {
	if e, ok := r[name]; ok {
		return e, nil
	}
	return nil, model.E(model.KindEngineConfig, "engine_unknown", "transcription engine %q is not configured", name)
}
