// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DeriveVersionID computes the deterministic version identifier from the
// object's content fingerprint. Re-ingesting identical content yields the
// same ID, which is the pipeline's idempotency anchor.
func DeriveVersionID(etag string, size int64, modTime time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", etag, size, modTime.UTC().UnixMilli())))
	return "v_" + hex.EncodeToString(h[:16])
}

// SegmentIDFor derives the stable segment identifier for the i-th chunk of a
// version's transcript.
func SegmentIDFor(versionID string, index int) string {
	return fmt.Sprintf("%s_seg_%d", versionID, index)
}
