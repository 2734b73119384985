// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/search"
)

type searchResponse struct {
	Query   string      `json:"query"`
	Type    string      `json:"type"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Results []searchHit `json:"results"`
}

type searchHit struct {
	AssetID   string      `json:"asset_id"`
	VersionID string      `json:"version_id"`
	SegmentID string      `json:"segment_id"`
	StartMS   int64       `json:"start_ms"`
	EndMS     int64       `json:"end_ms"`
	Snippet   string      `json:"snippet"`
	Score     float64     `json:"score"`
	MatchType string      `json:"match_type"`
	Speaker   string      `json:"speaker,omitempty"`
	Asset     searchAsset `json:"asset"`
}

type searchAsset struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := search.Request{
		Query:   q.Get("q"),
		Mode:    model.MatchType(q.Get("type")),
		Bucket:  q.Get("bucket"),
		Speaker: q.Get("speaker"),
	}
	var err error
	if req.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		writeError(w, model.E(model.KindInvalidInput, "bad_limit", "limit must be an integer"))
		return
	}
	if req.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, model.E(model.KindInvalidInput, "bad_offset", "offset must be an integer"))
		return
	}
	if req.KeywordWeight, err = floatParam(q.Get("wk"), 0); err != nil {
		writeError(w, model.E(model.KindInvalidInput, "bad_weight", "wk must be a number"))
		return
	}
	if req.SemanticWeight, err = floatParam(q.Get("ws"), 0); err != nil {
		writeError(w, model.E(model.KindInvalidInput, "bad_weight", "ws must be a number"))
		return
	}

	hits, err := s.search.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	results := make([]searchHit, 0, len(hits))
	for _, h := range hits {
		results = append(results, searchHit{
			AssetID:   h.AssetID,
			VersionID: h.VersionID,
			SegmentID: h.SegmentID,
			StartMS:   h.StartMS,
			EndMS:     h.EndMS,
			Snippet:   h.Text,
			Score:     h.Score,
			MatchType: string(h.MatchType),
			Speaker:   h.Speaker,
			Asset:     searchAsset{Bucket: h.Bucket, ObjectKey: h.ObjectKey},
		})
	}
	mode := string(req.Mode)
	if mode == "" {
		mode = string(model.MatchKeyword)
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Query:   req.Query,
		Type:    mode,
		Total:   len(results),
		Limit:   req.Limit,
		Offset:  req.Offset,
		Results: results,
	})
}

type triageEntry struct {
	AssetID           string    `json:"asset_id"`
	Bucket            string    `json:"bucket"`
	ObjectKey         string    `json:"object_key"`
	Status            string    `json:"status"`
	TriageState       string    `json:"triage_state"`
	RecommendedAction string    `json:"recommended_action"`
	LastError         string    `json:"last_error,omitempty"`
	Attempt           int       `json:"attempt"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toTriageEntry(a *model.Asset) triageEntry {
	return triageEntry{
		AssetID:           a.AssetID,
		Bucket:            a.Bucket,
		ObjectKey:         a.ObjectKey,
		Status:            string(a.Status),
		TriageState:       string(a.TriageState),
		RecommendedAction: a.RecommendedAction,
		LastError:         a.LastError,
		Attempt:           a.Attempt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func (s *Server) handleTriageList(w http.ResponseWriter, r *http.Request) {
	assets, err := s.db.ListQuarantined(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]triageEntry, 0, len(assets))
	for _, a := range assets {
		entries = append(entries, toTriageEntry(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"quarantined": entries})
}

type triageDetail struct {
	triageEntry
	DLQ []dlqEntry `json:"dlq"`
}

type dlqEntry struct {
	DLQID        string    `json:"dlq_id"`
	JobID        string    `json:"job_id"`
	VersionID    string    `json:"version_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	Retryable    bool      `json:"retryable"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Server) handleTriageDetail(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	asset, err := s.db.GetAsset(r.Context(), assetID)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.db.ListDLQByAsset(r.Context(), assetID)
	if err != nil {
		writeError(w, err)
		return
	}
	detail := triageDetail{triageEntry: toTriageEntry(asset), DLQ: make([]dlqEntry, 0, len(items))}
	for _, it := range items {
		detail.DLQ = append(detail.DLQ, dlqEntry{
			DLQID:        it.DLQID,
			JobID:        it.JobID,
			VersionID:    it.VersionID,
			ErrorCode:    it.ErrorCode,
			ErrorMessage: it.ErrorMessage,
			Retryable:    it.ErrorRetryable,
			CreatedAt:    it.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleTriageRetry(w http.ResponseWriter, r *http.Request) {
	if s.retry == nil {
		writeError(w, model.E(model.KindTransientResource, "triage_unavailable", "triage actions are not enabled"))
		return
	}
	assetID := chi.URLParam(r, "assetID")
	job, err := s.retry.Retry(r.Context(), assetID)
	if err != nil {
		writeError(w, err)
		return
	}
	logger := log.FromContext(r.Context())
	logger.Info().
		Str(log.FieldAssetID, assetID).
		Str(log.FieldJobID, job.JobID).
		Msg("operator retry accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"asset_id": assetID,
		"job_id":   job.JobID,
		"status":   "retry_scheduled",
	})
}

func (s *Server) handleTriageSkip(w http.ResponseWriter, r *http.Request) {
	if s.retry == nil {
		writeError(w, model.E(model.KindTransientResource, "triage_unavailable", "triage actions are not enabled"))
		return
	}
	assetID := chi.URLParam(r, "assetID")
	if err := s.retry.Skip(r.Context(), assetID); err != nil {
		writeError(w, err)
		return
	}
	logger := log.FromContext(r.Context())
	logger.Info().
		Str(log.FieldAssetID, assetID).
		Msg("operator skip accepted")
	writeJSON(w, http.StatusOK, map[string]string{
		"asset_id": assetID,
		"status":   "skipped",
	})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func floatParam(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseFloat(raw, 64)
}
