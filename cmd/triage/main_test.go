// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/triage/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/triage/" {
			_, _ = w.Write([]byte(`{"quarantined":[{"asset_id":"a1","bucket":"media","object_key":"x.wav","triage_state":"QUARANTINED","attempt":5,"recommended_action":"Manual investigation — retries exhausted"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"asset_id":"a1","bucket":"media","object_key":"x.wav","status":"QUARANTINED","triage_state":"QUARANTINED","attempt":5,"dlq":[]}`))
	})
	mux.HandleFunc("POST /api/triage/a1/retry", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"asset_id":"a1","job_id":"j9","status":"retry_scheduled"}`))
	})
	mux.HandleFunc("POST /api/triage/ghost/retry", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"asset ghost not found","code":"asset_missing"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListCommand(t *testing.T) {
	srv := stubAPI(t)
	var out, errOut bytes.Buffer
	code := run([]string{"--addr", srv.URL, "list"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "a1")
	assert.Contains(t, out.String(), "media/x.wav")
}

func TestRetryCommand(t *testing.T) {
	srv := stubAPI(t)
	var out, errOut bytes.Buffer
	code := run([]string{"--addr", srv.URL, "retry", "a1"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "j9")
}

func TestRetryUnknownAssetFails(t *testing.T) {
	srv := stubAPI(t)
	var out, errOut bytes.Buffer
	code := run([]string{"--addr", srv.URL, "retry", "ghost"}, &out, &errOut)
	assert.Equal(t, 64, code, "a rejected request is invalid input")
	assert.Contains(t, errOut.String(), "asset ghost not found")
}

func TestUnreachableDaemon(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"--addr", "http://127.0.0.1:1", "--timeout", "500ms", "list"}, &out, &errOut)
	assert.Equal(t, 69, code)
}

func TestUsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 64, run(nil, &out, &errOut))
	assert.Equal(t, 64, run([]string{"explode"}, &out, &errOut))
	assert.Equal(t, 64, run([]string{"retry"}, &out, &errOut))
}
