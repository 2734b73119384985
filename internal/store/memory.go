// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/mediasearch/internal/model"
)

// MemoryStore is an in-memory Store for unit tests. A single mutex stands in
// for the SQL adapters' transactions: every operation is atomic and readers
// see either all of a mutation or none of it.
type MemoryStore struct {
	mu         sync.RWMutex
	assets     map[string]*model.Asset        // asset_id -> asset
	versions   map[string]*model.AssetVersion // version_id -> version
	segments   map[string][]*model.Segment    // version_id -> segments
	embeddings map[string][]*model.Embedding  // version_id -> embeddings
	jobs       map[string]*memJob             // job_id -> job row
	dlq        []*model.DLQItem
}

type memJob struct {
	job       *model.Job
	status    model.JobStatus
	lastError string
	updatedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:     make(map[string]*model.Asset),
		versions:   make(map[string]*model.AssetVersion),
		segments:   make(map[string][]*model.Segment),
		embeddings: make(map[string][]*model.Embedding),
		jobs:       make(map[string]*memJob),
	}
}

func copyAsset(a *model.Asset) *model.Asset {
	cp := *a
	return &cp
}

func copyVersion(v *model.AssetVersion) *model.AssetVersion {
	cp := *v
	return &cp
}

func (s *MemoryStore) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[assetID]
	if !ok {
		return nil, model.E(model.KindNotFound, "asset_missing", "asset %s not found", assetID)
	}
	return copyAsset(a), nil
}

func (s *MemoryStore) GetAssetByObject(ctx context.Context, bucket, key string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := s.lookupByObjectLocked(bucket, key, false)
	if a == nil {
		return nil, model.E(model.KindNotFound, "asset_missing", "no asset at %s/%s", bucket, key)
	}
	return copyAsset(a), nil
}

// lookupByObjectLocked finds the asset at (bucket, key); with tombstoned
// true it returns the most recently updated tombstoned row instead.
func (s *MemoryStore) lookupByObjectLocked(bucket, key string, tombstoned bool) *model.Asset {
	var best *model.Asset
	for _, a := range s.assets {
		if a.Bucket != bucket || a.ObjectKey != key || a.Tombstone != tombstoned {
			continue
		}
		if best == nil || a.UpdatedAt.After(best.UpdatedAt) {
			best = a
		}
	}
	return best
}

func (s *MemoryStore) UpdateAsset(ctx context.Context, assetID string, fn func(*model.Asset) error) (*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[assetID]
	if !ok {
		return nil, model.E(model.KindNotFound, "asset_missing", "asset %s not found", assetID)
	}
	cp := copyAsset(a)
	if err := fn(cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now().UTC()
	s.assets[assetID] = cp
	return copyAsset(cp), nil
}

func (s *MemoryStore) ListAssetsByStatus(ctx context.Context, status model.AssetStatus) ([]*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Asset
	for _, a := range s.assets {
		if a.Status == status {
			out = append(out, copyAsset(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, versionID string) (*model.AssetVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, model.E(model.KindNotFound, "version_missing", "version %s not found", versionID)
	}
	return copyVersion(v), nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, assetID string) ([]*model.AssetVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.AssetVersion
	for _, v := range s.versions {
		if v.AssetID == assetID {
			out = append(out, copyVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) IngestObject(ctx context.Context, asset *model.Asset, version *model.AssetVersion) (*IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing := s.lookupByObjectLocked(asset.Bucket, asset.ObjectKey, false)
	if existing == nil {
		// A tombstoned predecessor at the same coordinates donates lineage.
		if prior := s.lookupByObjectLocked(asset.Bucket, asset.ObjectKey, true); prior != nil {
			asset.LineageID = prior.LineageID
		}
		cp := copyAsset(asset)
		cp.IngestTime = now
		cp.UpdatedAt = now
		s.assets[cp.AssetID] = cp
		existing = cp
	}

	if v, ok := s.versions[version.VersionID]; ok && v.AssetID == existing.AssetID {
		return &IngestResult{Asset: copyAsset(existing), Version: copyVersion(v), Created: false}, nil
	}

	version.AssetID = existing.AssetID
	cpv := copyVersion(version)
	cpv.CreatedAt = now
	s.versions[cpv.VersionID] = cpv

	return &IngestResult{Asset: copyAsset(existing), Version: copyVersion(cpv), Created: true}, nil
}

func (s *MemoryStore) TombstoneAsset(ctx context.Context, bucket, key string) (*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.lookupByObjectLocked(bucket, key, false)
	if a == nil {
		return nil, model.E(model.KindNotFound, "asset_missing", "no asset at %s/%s", bucket, key)
	}

	cp := copyAsset(a)
	cp.Tombstone = true
	cp.CurrentVersionID = ""
	cp.Status = model.AssetDeleted
	cp.UpdatedAt = time.Now().UTC()
	s.assets[cp.AssetID] = cp

	for vid, v := range s.versions {
		if v.AssetID != cp.AssetID {
			continue
		}
		vv := copyVersion(v)
		vv.PublishState = model.PublishSoftDeleted
		s.versions[vid] = vv
		for _, seg := range s.segments[vid] {
			seg.Visibility = model.VisibilitySoftDeleted
		}
		for _, emb := range s.embeddings[vid] {
			emb.Visibility = model.VisibilitySoftDeleted
		}
	}
	return copyAsset(cp), nil
}

func (s *MemoryStore) ReplaceStagingTranscript(ctx context.Context, assetID, versionID string, segs []*model.Segment, embs []*model.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[versionID]; !ok {
		return model.E(model.KindNotFound, "version_missing", "version %s not found", versionID)
	}

	keep := func(vis model.Visibility) bool { return vis != model.VisibilityStaging }

	var keptSegs []*model.Segment
	for _, seg := range s.segments[versionID] {
		if keep(seg.Visibility) {
			keptSegs = append(keptSegs, seg)
		}
	}
	var keptEmbs []*model.Embedding
	for _, emb := range s.embeddings[versionID] {
		if keep(emb.Visibility) {
			keptEmbs = append(keptEmbs, emb)
		}
	}

	for _, seg := range segs {
		cp := *seg
		keptSegs = append(keptSegs, &cp)
	}
	for _, emb := range embs {
		cp := *emb
		cp.Vector = append([]float32(nil), emb.Vector...)
		keptEmbs = append(keptEmbs, &cp)
	}
	s.segments[versionID] = keptSegs
	s.embeddings[versionID] = keptEmbs
	return nil
}

func (s *MemoryStore) ListSegments(ctx context.Context, assetID, versionID string) ([]*model.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Segment
	for _, seg := range s.segments[versionID] {
		if seg.AssetID == assetID {
			cp := *seg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMS < out[j].StartMS })
	return out, nil
}

func (s *MemoryStore) ListEmbeddings(ctx context.Context, assetID, versionID string) ([]*model.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Embedding
	for _, emb := range s.embeddings[versionID] {
		if emb.AssetID == assetID {
			cp := *emb
			cp.Vector = append([]float32(nil), emb.Vector...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out, nil
}

func (s *MemoryStore) PublishVersion(ctx context.Context, assetID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok {
		return model.E(model.KindNotFound, "asset_missing", "asset %s not found", assetID)
	}
	version, ok := s.versions[versionID]
	if !ok || version.AssetID != assetID {
		return model.E(model.KindNotFound, "version_missing", "version %s not found for asset %s", versionID, assetID)
	}

	// Idempotent republish of the current ACTIVE version.
	if asset.CurrentVersionID == versionID && version.PublishState == model.PublishActive {
		return nil
	}

	// Demote the previous current version.
	if old := asset.CurrentVersionID; old != "" && old != versionID {
		if ov, ok := s.versions[old]; ok {
			ovCp := copyVersion(ov)
			ovCp.PublishState = model.PublishArchived
			s.versions[old] = ovCp
		}
		for _, seg := range s.segments[old] {
			if seg.Visibility == model.VisibilityActive {
				seg.Visibility = model.VisibilityArchived
			}
		}
		for _, emb := range s.embeddings[old] {
			if emb.Visibility == model.VisibilityActive {
				emb.Visibility = model.VisibilityArchived
			}
		}
	}

	// Promote the new version's rows.
	for _, seg := range s.segments[versionID] {
		if seg.Visibility == model.VisibilityStaging || seg.Visibility == model.VisibilityArchived {
			seg.Visibility = model.VisibilityActive
		}
	}
	for _, emb := range s.embeddings[versionID] {
		if emb.Visibility == model.VisibilityStaging || emb.Visibility == model.VisibilityArchived {
			emb.Visibility = model.VisibilityActive
		}
	}

	vCp := copyVersion(version)
	vCp.PublishState = model.PublishActive
	vCp.Status = model.VersionPublished
	s.versions[versionID] = vCp

	aCp := copyAsset(asset)
	aCp.CurrentVersionID = versionID
	aCp.Status = model.AssetIndexed
	aCp.UpdatedAt = time.Now().UTC()
	s.assets[assetID] = aCp
	return nil
}

func (s *MemoryStore) UpsertJob(ctx context.Context, job *model.Job, status model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.JobID] = &memJob{job: &cp, status: status, updatedAt: time.Now().UTC()}
	return nil
}

func (s *MemoryStore) MarkJob(ctx context.Context, jobID string, status model.JobStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return model.E(model.KindNotFound, "job_missing", "job %s not found", jobID)
	}
	j.status = status
	j.lastError = lastError
	j.updatedAt = time.Now().UTC()
	return nil
}

// JobStatus reports a mirrored job's status (tests).
func (s *MemoryStore) JobStatus(jobID string) (model.JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return "", false
	}
	return j.status, true
}

func (s *MemoryStore) AddDLQItem(ctx context.Context, item *model.DLQItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.dlq = append(s.dlq, &cp)
	return nil
}

func (s *MemoryStore) ListDLQByAsset(ctx context.Context, assetID string) ([]*model.DLQItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.DLQItem
	for _, item := range s.dlq {
		if item.AssetID == assetID {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) RemoveDLQByAsset(ctx context.Context, assetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*model.DLQItem
	removed := 0
	for _, item := range s.dlq {
		if item.AssetID == assetID {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	s.dlq = kept
	return removed, nil
}

func (s *MemoryStore) ListQuarantined(ctx context.Context) ([]*model.Asset, error) {
	return s.ListAssetsByStatus(ctx, model.AssetQuarantined)
}

// searchableLocked yields (segment, asset) pairs passing the hard filters.
func (s *MemoryStore) searchableLocked(f SearchFilter, fn func(seg *model.Segment, a *model.Asset)) {
	for _, a := range s.assets {
		if a.Tombstone || a.CurrentVersionID == "" {
			continue
		}
		if f.Bucket != "" && a.Bucket != f.Bucket {
			continue
		}
		for _, seg := range s.segments[a.CurrentVersionID] {
			if seg.Visibility != model.VisibilityActive {
				continue
			}
			if seg.VersionID != a.CurrentVersionID {
				continue
			}
			if f.Speaker != "" && seg.Speaker != f.Speaker {
				continue
			}
			fn(seg, a)
		}
	}
}

func (s *MemoryStore) SearchKeyword(ctx context.Context, f SearchFilter) ([]*SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := Tokenize(f.Query)
	var hits []*SearchHit
	s.searchableLocked(f, func(seg *model.Segment, a *model.Asset) {
		score := KeywordScore(seg.Text, tokens)
		if score <= 0 {
			return
		}
		hits = append(hits, hitFrom(seg, a, score))
	})
	return SortHits(hits, f.Limit), nil
}

func (s *MemoryStore) SearchSemantic(ctx context.Context, vector []float32, f SearchFilter) ([]*SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Index embeddings of current versions by segment.
	type embKey struct{ version, segment string }
	embBySeg := make(map[embKey][]float32)
	for vid, embs := range s.embeddings {
		for _, emb := range embs {
			if emb.Visibility == model.VisibilityActive {
				embBySeg[embKey{vid, emb.SegmentID}] = emb.Vector
			}
		}
	}

	var hits []*SearchHit
	s.searchableLocked(f, func(seg *model.Segment, a *model.Asset) {
		vec, ok := embBySeg[embKey{seg.VersionID, seg.SegmentID}]
		if !ok {
			return
		}
		hits = append(hits, hitFrom(seg, a, SemanticScore(CosineDistance(vector, vec))))
	})
	return SortHits(hits, f.Limit), nil
}

func hitFrom(seg *model.Segment, a *model.Asset, score float64) *SearchHit {
	return &SearchHit{
		AssetID:   seg.AssetID,
		VersionID: seg.VersionID,
		SegmentID: seg.SegmentID,
		StartMS:   seg.StartMS,
		EndMS:     seg.EndMS,
		Text:      seg.Text,
		Speaker:   seg.Speaker,
		Score:     score,
		CreatedAt: seg.CreatedAt,
		Bucket:    a.Bucket,
		ObjectKey: a.ObjectKey,
	}
}

func (s *MemoryStore) PurgeArchivedVersions(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for vid, v := range s.versions {
		if v.PublishState != model.PublishArchived || !v.CreatedAt.Before(olderThan) {
			continue
		}
		delete(s.versions, vid)
		delete(s.segments, vid)
		delete(s.embeddings, vid)
		purged++
	}
	return purged, nil
}

func (s *MemoryStore) Close() error { return nil }
