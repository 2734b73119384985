// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/mediasearch/internal/model"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps tagged pipeline errors onto HTTP statuses. Untagged
// errors surface as 500 with the message redacted.
func writeError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	body := errorBody{Error: err.Error(), Code: model.CodeOf(err), Kind: string(kind)}
	switch kind {
	case model.KindInvalidInput:
		writeJSON(w, http.StatusBadRequest, body)
	case model.KindNotFound:
		writeJSON(w, http.StatusNotFound, body)
	case model.KindAlreadyExists:
		writeJSON(w, http.StatusConflict, body)
	case model.KindTransientNetwork, model.KindTransientResource, model.KindTimeout:
		writeJSON(w, http.StatusServiceUnavailable, body)
	default:
		body.Error = "internal error"
		writeJSON(w, http.StatusInternalServerError, body)
	}
}
