// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldAssetID   = "asset_id"
	FieldVersionID = "version_id"
	FieldSegmentID = "segment_id"
	FieldLineageID = "lineage_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldEngine    = "engine"
	FieldStrategy  = "strategy"

	// Object store fields
	FieldBucket    = "bucket"
	FieldObjectKey = "object_key"
	FieldETag      = "etag"
	FieldSize      = "size"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldErrKind  = "err_kind"
)
