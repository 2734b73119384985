// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package asr

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/segment"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEngine transcribes media through the OpenAI audio API (whisper-1).
// The API does not expose speaker labels, so diarization requests degrade to
// unlabelled segments.
type OpenAIEngine struct {
	client openai.Client
	model  string
}

// NewOpenAIEngine builds the engine; apiKey falls back to the SDK's
// environment lookup when empty.
func NewOpenAIEngine(apiKey, modelName string) *OpenAIEngine {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if modelName == "" {
		modelName = string(openai.AudioModelWhisper1)
	}
	return &OpenAIEngine{client: openai.NewClient(opts...), model: modelName}
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Capabilities() Capabilities {
	return Capabilities{
		Formats:       []string{"wav", "mp3", "mp4", "flac", "aac"},
		Diarization:   false,
		MaxDurationMS: 4 * 60 * 60 * 1000,
		Languages:     nil, // model auto-detects
	}
}

func (e *OpenAIEngine) Transcribe(ctx context.Context, media []byte, opts Options) (*Result, error) {
	filename := "media"
	if ext := extensionFor(opts.ContentType); ext != "" {
		filename += "." + ext
	}

	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(media), filename, opts.ContentType),
		Model:          openai.AudioModel(e.model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if opts.Language != "" {
		params.Language = openai.String(opts.Language)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAI(err)
	}

	result := &Result{
		Engine:     e.Name(),
		DurationMS: int64(resp.Duration * 1000),
	}
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, segment.RawSegment{
			StartMS:    int64(s.Start * 1000),
			EndMS:      int64(s.End * 1000),
			Text:       text,
			Confidence: confidenceFromLogprob(s.AvgLogprob),
		})
	}
	if len(result.Segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		// Some formats come back without segment timing; fall back to one
		// full-duration segment.
		result.Segments = append(result.Segments, segment.RawSegment{
			StartMS:    0,
			EndMS:      result.DurationMS,
			Text:       strings.TrimSpace(resp.Text),
			Confidence: 0.5,
		})
	}

	logger := log.WithComponent("asr.openai")
	logger.Debug().
		Int("segments", len(result.Segments)).
		Int64("duration_ms", result.DurationMS).
		Msg("transcription complete")
	return result, nil
}

// confidenceFromLogprob squashes the average token logprob into (0, 1].
func confidenceFromLogprob(avgLogprob float64) float32 {
	c := 1.0 + avgLogprob/5.0 // logprob 0 -> 1.0, -5 -> 0.0
	if c < 0.01 {
		c = 0.01
	}
	if c > 1 {
		c = 1
	}
	return float32(c)
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "wav"):
		return "wav"
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return "mp3"
	case strings.Contains(contentType, "mp4"):
		return "mp4"
	case strings.Contains(contentType, "flac"):
		return "flac"
	case strings.Contains(contentType, "aac"):
		return "aac"
	}
	return ""
}

// classifyOpenAI maps API failures onto the pipeline error taxonomy.
func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 400:
			msg := strings.ToLower(apiErr.Message)
			if strings.Contains(msg, "format") || strings.Contains(msg, "decode") || strings.Contains(msg, "corrupt") {
				return model.WrapErr(model.KindMediaFormat, "media_unreadable", err)
			}
			return model.WrapErr(model.KindEngineConfig, "asr_bad_request", err)
		case apiErr.StatusCode == 401, apiErr.StatusCode == 403:
			return model.WrapErr(model.KindPermanentDownstream, "asr_unauthorized", err)
		case apiErr.StatusCode == 404:
			return model.WrapErr(model.KindEngineConfig, "asr_model_missing", err)
		case apiErr.StatusCode == 429:
			return model.WrapErr(model.KindTransientNetwork, "asr_rate_limited", err)
		case apiErr.StatusCode >= 500:
			return model.WrapErr(model.KindTransientResource, "asr_unavailable", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.WrapErr(model.KindTimeout, "asr_timeout", err)
	}
	return model.WrapErr(model.KindTransientNetwork, "asr_unreachable", err)
}
