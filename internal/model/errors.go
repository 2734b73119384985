// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
)

// Kind is a compact, typed failure signal carried across the pipeline.
// Keep these stable: retry classification and triage depend on them.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindAlreadyExists       Kind = "ALREADY_EXISTS"
	KindMediaFormat         Kind = "MEDIA_FORMAT"
	KindEngineConfig        Kind = "ENGINE_CONFIG"
	KindTransientNetwork    Kind = "TRANSIENT_NETWORK"
	KindTransientResource   Kind = "TRANSIENT_RESOURCE"
	KindPermanentDownstream Kind = "PERMANENT_DOWNSTREAM"
	KindTimeout             Kind = "TIMEOUT"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindInternal            Kind = "INTERNAL"
)

// Retryable reports whether failures of this kind are worth re-running.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindTransientResource, KindTimeout:
		return true
	}
	return false
}

// Error is a tagged pipeline error. Code is a short machine identifier
// (e.g. "asr_unavailable"); Message is human-readable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is matching on the kind via sentinel errors built with E.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || t.Code == e.Code)
}

// E constructs a tagged error.
func E(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapErr tags an underlying error with a kind and code.
func WrapErr(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: code, Err: err}
}

// KindOf extracts the kind from an error chain, or KindInternal when untagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the machine code from an error chain, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the error's kind is a retryable class.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
