// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediasearch/internal/embed"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/pipeline"
	"github.com/ManuGH/mediasearch/internal/queue"
	"github.com/ManuGH/mediasearch/internal/search"
	"github.com/ManuGH/mediasearch/internal/store"
)

const testDim = 32

type fixture struct {
	db     *store.MemoryStore
	jobs   *queue.MemoryQueue
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.NewMemoryStore()
	jobs := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = jobs.Close() })
	em := embed.NewLocalEmbedder(testDim, 0)
	svc := search.NewService(db, em, true, search.HybridDefaults{})
	retry := pipeline.NewRetryManager(db, jobs, pipeline.RetryPolicy{
		MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
	})
	return &fixture{db: db, jobs: jobs, server: New(Options{Listen: ":0"}, db, svc, retry)}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func seedPublished(t *testing.T, db *store.MemoryStore, assetID, text string) {
	t.Helper()
	ctx := context.Background()
	versionID := "v-" + assetID
	res, err := db.IngestObject(ctx,
		&model.Asset{AssetID: assetID, Bucket: "media", ObjectKey: assetID + ".wav", Status: model.AssetIngested},
		&model.AssetVersion{VersionID: versionID, Status: model.VersionIngested, PublishState: model.PublishStaging})
	require.NoError(t, err)
	require.True(t, res.Created)

	em := embed.NewLocalEmbedder(testDim, 0)
	vec, err := em.Embed(ctx, text)
	require.NoError(t, err)
	segID := model.SegmentIDFor(versionID, 0)
	now := time.Now().UTC()
	require.NoError(t, db.ReplaceStagingTranscript(ctx, assetID, versionID,
		[]*model.Segment{{
			SegmentID: segID, AssetID: assetID, VersionID: versionID,
			EndMS: 1000, Text: text, Visibility: model.VisibilityStaging, CreatedAt: now,
		}},
		[]*model.Embedding{{
			EmbeddingID: segID + "_emb", AssetID: assetID, VersionID: versionID, SegmentID: segID,
			Vector: vec, Dimension: testDim, Visibility: model.VisibilityStaging, CreatedAt: now,
		}}))
	require.NoError(t, db.PublishVersion(ctx, assetID, versionID))
}

func seedQuarantined(t *testing.T, db *store.MemoryStore, assetID string) {
	t.Helper()
	ctx := context.Background()
	versionID := "v-" + assetID
	_, err := db.IngestObject(ctx,
		&model.Asset{AssetID: assetID, Bucket: "media", ObjectKey: assetID + ".wav", Status: model.AssetIngested},
		&model.AssetVersion{VersionID: versionID, Status: model.VersionIngested, PublishState: model.PublishStaging})
	require.NoError(t, err)
	_, err = db.UpdateAsset(ctx, assetID, func(a *model.Asset) error {
		a.Status = model.AssetQuarantined
		a.TriageState = model.TriageQuarantined
		a.RecommendedAction = "Manual investigation — retries exhausted"
		a.LastError = "boom"
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, db.AddDLQItem(ctx, &model.DLQItem{
		DLQID: "dlq-" + assetID, JobID: "job-" + assetID, AssetID: assetID, VersionID: versionID,
		ErrorCode: "asr_unavailable", ErrorMessage: "boom", ErrorRetryable: true,
		Job:       &model.Job{JobID: "job-" + assetID, AssetID: assetID, VersionID: versionID, IdempotencyKey: assetID + ":" + versionID + ":0"},
		CreatedAt: time.Now().UTC(),
	}))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)
	seedPublished(t, f.db, "a1", "budget review meeting")
	seedPublished(t, f.db, "a2", "totally unrelated content")

	rec := f.do(t, http.MethodGet, "/api/search?q=budget&type=keyword")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a1", resp.Results[0].AssetID)
	assert.Equal(t, "budget review meeting", resp.Results[0].Snippet)
	assert.Equal(t, "media", resp.Results[0].Asset.Bucket)
	assert.Equal(t, "keyword", resp.Type)
	assert.Equal(t, 1, resp.Total)
}

func TestSearchValidationErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/search?q=")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/search?q=x&type=telepathy")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/search?q=x&limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bad_limit", body.Code)
}

func TestSearchEmptyResultsIsArray(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/search?q=nothing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestTriageListAndDetail(t *testing.T) {
	f := newFixture(t)
	seedQuarantined(t, f.db, "bad1")

	rec := f.do(t, http.MethodGet, "/api/triage/")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Quarantined []triageEntry `json:"quarantined"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Quarantined, 1)
	assert.Equal(t, "bad1", list.Quarantined[0].AssetID)
	assert.Equal(t, "QUARANTINED", list.Quarantined[0].Status)

	rec = f.do(t, http.MethodGet, "/api/triage/bad1")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail triageDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.DLQ, 1)
	assert.Equal(t, "asr_unavailable", detail.DLQ[0].ErrorCode)
}

func TestTriageDetailUnknownAsset(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/triage/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriageRetry(t *testing.T) {
	f := newFixture(t)
	seedQuarantined(t, f.db, "bad1")

	rec := f.do(t, http.MethodPost, "/api/triage/bad1/retry")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["job_id"])

	asset, err := f.db.GetAsset(context.Background(), "bad1")
	require.NoError(t, err)
	assert.Equal(t, model.AssetPendingRetry, asset.Status)

	items, err := f.db.ListDLQByAsset(context.Background(), "bad1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestTriageRetryNotQuarantined(t *testing.T) {
	f := newFixture(t)
	seedPublished(t, f.db, "ok1", "fine")

	rec := f.do(t, http.MethodPost, "/api/triage/ok1/retry")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriageSkip(t *testing.T) {
	f := newFixture(t)
	seedQuarantined(t, f.db, "bad1")

	rec := f.do(t, http.MethodPost, "/api/triage/bad1/skip")
	require.Equal(t, http.StatusOK, rec.Code)

	asset, err := f.db.GetAsset(context.Background(), "bad1")
	require.NoError(t, err)
	assert.Equal(t, model.AssetFailed, asset.Status)
	assert.Equal(t, "boom", asset.LastError)
}

func TestRateLimit(t *testing.T) {
	db := store.NewMemoryStore()
	svc := search.NewService(db, embed.NewLocalEmbedder(testDim, 0), true, search.HybridDefaults{})
	srv := New(Options{Listen: ":0", RateLimitRPS: 2, RateLimitSpan: time.Minute}, db, svc, nil)
	router := srv.Router()

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
