// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuGH/mediasearch/internal/model"
)

// substringKinds maps message fragments to error kinds for errors that reach
// the pipeline without a taxonomy tag. First match wins; order matters:
// specific fragments sit above generic ones.
var substringKinds = []struct {
	fragment string
	kind     model.Kind
}{
	{"unsupported codec", model.KindMediaFormat},
	{"corrupt", model.KindMediaFormat},
	{"decode", model.KindMediaFormat},
	{"invalid media", model.KindMediaFormat},
	{"model not found", model.KindEngineConfig},
	{"invalid parameter", model.KindEngineConfig},
	{"dimension mismatch", model.KindEngineConfig},
	{"permission denied", model.KindPermanentDownstream},
	{"access denied", model.KindPermanentDownstream},
	{"quota exceeded", model.KindPermanentDownstream},
	{"unauthorized", model.KindPermanentDownstream},
	{"gpu", model.KindTransientResource},
	{"engine busy", model.KindTransientResource},
	{"resource exhausted", model.KindTransientResource},
	{"too many requests", model.KindTransientNetwork},
	{"rate limit", model.KindTransientNetwork},
	{"connection refused", model.KindTransientNetwork},
	{"connection reset", model.KindTransientNetwork},
	{"unavailable", model.KindTransientNetwork},
	{"timeout", model.KindTimeout},
	{"deadline exceeded", model.KindTimeout},
}

// Classify resolves the error kind driving the retry decision. Tagged errors
// keep their kind; untagged ones fall back to the substring table, and
// anything unrecognized counts as transient so the retry budget, not a
// guess, decides its fate.
func Classify(err error) model.Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.KindTimeout
	}
	var me *model.Error
	if errors.As(err, &me) {
		return me.Kind
	}
	msg := strings.ToLower(err.Error())
	for _, m := range substringKinds {
		if strings.Contains(msg, m.fragment) {
			return m.kind
		}
	}
	return model.KindTransientNetwork
}

// Triage maps a terminal failure's kind to the operator-facing triage state
// and recommended action.
func Triage(kind model.Kind) (model.TriageState, string) {
	switch kind {
	case model.KindMediaFormat:
		return model.TriageNeedsMediaFix, "Re-encode with supported codec or repair corruption"
	case model.KindEngineConfig:
		return model.TriageNeedsEngineTuning, "Review engine configuration or choose alternative engine"
	case model.KindPermanentDownstream:
		return model.TriageQuarantined, "Manual investigation required"
	default:
		return model.TriageQuarantined, "Manual investigation — retries exhausted"
	}
}
