// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package segment turns raw ASR output into transcript segments using a
// selectable chunking strategy. All logic here is pure; no I/O.
package segment

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ManuGH/mediasearch/internal/model"
)

// DefaultWindowMS is the fixed-window width when no override is configured.
const DefaultWindowMS = 5000

// RawSegment is one timed chunk as produced by an ASR engine.
type RawSegment struct {
	StartMS    int64
	EndMS      int64
	Text       string
	Speaker    string
	Confidence float32
}

// Select picks the chunking strategy for a transcript. A forced strategy in
// the engine policy overrides selection; otherwise media strictly longer than
// the compute threshold falls back to fixed windows.
func Select(policy model.EnginePolicy, durationMS int64) model.ChunkStrategy {
	if policy.ForceChunkingStrategy != "" {
		return policy.ForceChunkingStrategy
	}
	if policy.ComputeThresholdSeconds > 0 && durationMS > int64(policy.ComputeThresholdSeconds)*1000 {
		return model.ChunkFixedWindow
	}
	return model.ChunkSentence
}

// Chunk applies the given strategy and emits model segments at STAGING
// visibility with deterministic IDs derived from the version.
func Chunk(strategy model.ChunkStrategy, assetID, versionID string, raw []RawSegment, durationMS int64, windowMS int64, now time.Time) []*model.Segment {
	if windowMS <= 0 {
		windowMS = DefaultWindowMS
	}

	var chunks []RawSegment
	switch strategy {
	case model.ChunkFixedWindow:
		chunks = fixedWindows(raw, durationMS, windowMS)
	default:
		strategy = model.ChunkSentence
		chunks = sentences(raw)
	}

	out := make([]*model.Segment, 0, len(chunks))
	for i, c := range chunks {
		out = append(out, &model.Segment{
			SegmentID:        model.SegmentIDFor(versionID, i),
			AssetID:          assetID,
			VersionID:        versionID,
			StartMS:          c.StartMS,
			EndMS:            c.EndMS,
			Text:             c.Text,
			Speaker:          c.Speaker,
			Confidence:       c.Confidence,
			Visibility:       model.VisibilityStaging,
			ChunkingStrategy: strategy,
			CreatedAt:        now.UTC(),
		})
	}
	return out
}

// sentences re-splits each ASR window on sentence terminators, distributing
// the window's duration proportionally to sentence length. Speaker and
// confidence are carried from the spanning ASR segment.
func sentences(raw []RawSegment) []RawSegment {
	var out []RawSegment
	for _, seg := range raw {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts := splitSentences(text)
		if len(parts) == 0 {
			continue
		}

		total := 0
		for _, p := range parts {
			total += utf8.RuneCountInString(p)
		}
		window := seg.EndMS - seg.StartMS
		if window < 0 {
			window = 0
		}

		cursor := seg.StartMS
		for i, p := range parts {
			var end int64
			if i == len(parts)-1 {
				end = seg.EndMS // absorb rounding in the last sentence
			} else {
				share := int64(float64(window) * float64(utf8.RuneCountInString(p)) / float64(total))
				end = cursor + share
			}
			out = append(out, RawSegment{
				StartMS:    cursor,
				EndMS:      end,
				Text:       p,
				Speaker:    seg.Speaker,
				Confidence: seg.Confidence,
			})
			cursor = end
		}
	}
	return out
}

// splitSentences breaks text on `. ! ?` keeping the terminator attached.
func splitSentences(text string) []string {
	var parts []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				parts = append(parts, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}

// fixedWindows buckets ASR segments into windows of windowMS. Each ASR
// segment contributes its full text to the window containing its start so no
// text is duplicated. Speaker is the majority speaker by spoken duration;
// confidence is the mean of contributing confidences.
func fixedWindows(raw []RawSegment, durationMS, windowMS int64) []RawSegment {
	if len(raw) == 0 {
		return nil
	}

	end := durationMS
	for _, seg := range raw {
		if seg.EndMS > end {
			end = seg.EndMS
		}
	}

	type bucket struct {
		texts       []string
		speakerTime map[string]int64
		confSum     float64
		confN       int
	}
	buckets := make(map[int64]*bucket)

	for _, seg := range raw {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		idx := seg.StartMS / windowMS
		b := buckets[idx]
		if b == nil {
			b = &bucket{speakerTime: make(map[string]int64)}
			buckets[idx] = b
		}
		b.texts = append(b.texts, strings.TrimSpace(seg.Text))
		if seg.Speaker != "" {
			b.speakerTime[seg.Speaker] += seg.EndMS - seg.StartMS
		}
		b.confSum += float64(seg.Confidence)
		b.confN++
	}

	var out []RawSegment
	for idx := int64(0); idx*windowMS < end; idx++ {
		b := buckets[idx]
		if b == nil || len(b.texts) == 0 {
			continue
		}
		winEnd := (idx + 1) * windowMS
		if winEnd > end {
			winEnd = end
		}
		out = append(out, RawSegment{
			StartMS:    idx * windowMS,
			EndMS:      winEnd,
			Text:       strings.Join(b.texts, " "),
			Speaker:    majoritySpeaker(b.speakerTime),
			Confidence: float32(b.confSum / float64(b.confN)),
		})
	}
	return out
}

func majoritySpeaker(byTime map[string]int64) string {
	var best string
	var bestTime int64 = -1
	for speaker, t := range byTime {
		if t > bestTime || (t == bestTime && speaker < best) {
			best = speaker
			bestTime = t
		}
	}
	return best
}
