// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediasearch/internal/model"
)

func seedAsset(t *testing.T, s *MemoryStore, assetID, versionID string) {
	t.Helper()
	res, err := s.IngestObject(context.Background(),
		&model.Asset{
			AssetID:   assetID,
			LineageID: "lin-" + assetID,
			Bucket:    "media",
			ObjectKey: assetID + ".wav",
			Status:    model.AssetIngested,
			ETag:      "etag-" + versionID,
		},
		&model.AssetVersion{
			VersionID: versionID,
			Status:    model.VersionIngested,
		})
	require.NoError(t, err)
	require.True(t, res.Created)
}

func seedTranscript(t *testing.T, s *MemoryStore, assetID, versionID, text string, vec []float32) {
	t.Helper()
	now := time.Now().UTC()
	segs := []*model.Segment{{
		SegmentID:  model.SegmentIDFor(versionID, 0),
		AssetID:    assetID,
		VersionID:  versionID,
		StartMS:    0,
		EndMS:      1000,
		Text:       text,
		Speaker:    "spk_0",
		Confidence: 0.9,
		Visibility: model.VisibilityStaging,
		CreatedAt:  now,
	}}
	embs := []*model.Embedding{{
		EmbeddingID: segs[0].SegmentID + "_emb",
		AssetID:     assetID,
		VersionID:   versionID,
		SegmentID:   segs[0].SegmentID,
		Vector:      vec,
		Dimension:   len(vec),
		Visibility:  model.VisibilityStaging,
		CreatedAt:   now,
	}}
	require.NoError(t, s.ReplaceStagingTranscript(context.Background(), assetID, versionID, segs, embs))
}

func TestIngestObjectIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")

	res, err := s.IngestObject(ctx,
		&model.Asset{AssetID: "a1-duplicate", Bucket: "media", ObjectKey: "a1.wav"},
		&model.AssetVersion{VersionID: "v1"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "a1", res.Asset.AssetID, "duplicate ingest must resolve to the existing asset")

	versions, err := s.ListVersions(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestIngestObjectNewVersionSameAsset(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")

	res, err := s.IngestObject(ctx,
		&model.Asset{AssetID: "a1-reupload", Bucket: "media", ObjectKey: "a1.wav"},
		&model.AssetVersion{VersionID: "v2"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "a1", res.Asset.AssetID)
	assert.Equal(t, "a1", res.Version.AssetID)
}

func TestTombstoneThenReuploadInheritsLineage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")

	a, err := s.TombstoneAsset(ctx, "media", "a1.wav")
	require.NoError(t, err)
	assert.True(t, a.Tombstone)
	assert.Equal(t, model.AssetDeleted, a.Status)
	assert.Empty(t, a.CurrentVersionID)

	res, err := s.IngestObject(ctx,
		&model.Asset{AssetID: "a2", LineageID: "lin-a2", Bucket: "media", ObjectKey: "a1.wav"},
		&model.AssetVersion{VersionID: "v2"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "a2", res.Asset.AssetID, "re-upload must be a fresh asset")
	assert.Equal(t, "lin-a1", res.Asset.LineageID, "lineage carries over from the tombstoned predecessor")
}

func TestTombstoneSoftDeletesTranscript(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")
	seedTranscript(t, s, "a1", "v1", "hello world", []float32{1, 0})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))

	_, err := s.TombstoneAsset(ctx, "media", "a1.wav")
	require.NoError(t, err)

	segs, err := s.ListSegments(ctx, "a1", "v1")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, model.VisibilitySoftDeleted, segs[0].Visibility)

	hits, err := s.SearchKeyword(ctx, SearchFilter{Query: "hello"})
	require.NoError(t, err)
	assert.Empty(t, hits, "tombstoned assets must not be searchable")
}

func TestPublishVersionCutover(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")
	seedTranscript(t, s, "a1", "v1", "first transcript", []float32{1, 0})

	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))

	a, err := s.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "v1", a.CurrentVersionID)
	assert.Equal(t, model.AssetIndexed, a.Status)

	v1, err := s.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.PublishActive, v1.PublishState)
	assert.Equal(t, model.VersionPublished, v1.Status)

	// Second version supersedes the first atomically.
	_, err = s.IngestObject(ctx,
		&model.Asset{Bucket: "media", ObjectKey: "a1.wav"},
		&model.AssetVersion{VersionID: "v2"})
	require.NoError(t, err)
	seedTranscript(t, s, "a1", "v2", "second transcript", []float32{0, 1})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v2"))

	v1, err = s.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.PublishArchived, v1.PublishState)

	segs1, err := s.ListSegments(ctx, "a1", "v1")
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityArchived, segs1[0].Visibility)

	segs2, err := s.ListSegments(ctx, "a1", "v2")
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityActive, segs2[0].Visibility)

	// Old transcript is gone from search, new one is live.
	hits, err := s.SearchKeyword(ctx, SearchFilter{Query: "first"})
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = s.SearchKeyword(ctx, SearchFilter{Query: "second"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v2", hits[0].VersionID)
}

func TestPublishVersionIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")
	seedTranscript(t, s, "a1", "v1", "some text", []float32{1, 0})

	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))
	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))

	a, err := s.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "v1", a.CurrentVersionID)

	hits, err := s.SearchKeyword(ctx, SearchFilter{Query: "text"})
	require.NoError(t, err)
	assert.Len(t, hits, 1, "republish must not duplicate visible rows")
}

func TestPublishVersionUnknownVersion(t *testing.T) {
	s := NewMemoryStore()
	seedAsset(t, s, "a1", "v1")
	err := s.PublishVersion(context.Background(), "a1", "v-nope")
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestReplaceStagingTranscriptConverges(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")

	seedTranscript(t, s, "a1", "v1", "draft one", []float32{1, 0})
	seedTranscript(t, s, "a1", "v1", "draft two", []float32{0, 1})

	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))
	segs, err := s.ListSegments(ctx, "a1", "v1")
	require.NoError(t, err)
	require.Len(t, segs, 1, "re-running staging writes must not accumulate rows")
	assert.Equal(t, "draft two", segs[0].Text)
}

func TestSearchKeywordFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")
	seedTranscript(t, s, "a1", "v1", "the quick brown fox", []float32{1, 0})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))

	// Unpublished asset stays invisible.
	seedAsset(t, s, "a2", "v2")
	seedTranscript(t, s, "a2", "v2", "another quick fox", []float32{0, 1})

	hits, err := s.SearchKeyword(ctx, SearchFilter{Query: "quick fox"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].AssetID)
	assert.Equal(t, float64(2), hits[0].Score)

	hits, err = s.SearchKeyword(ctx, SearchFilter{Query: "quick", Bucket: "other"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.SearchKeyword(ctx, SearchFilter{Query: "quick", Speaker: "spk_1"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchSemanticOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")
	seedTranscript(t, s, "a1", "v1", "close match", []float32{1, 0})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))
	seedAsset(t, s, "a2", "v2")
	seedTranscript(t, s, "a2", "v2", "far match", []float32{0, 1})
	require.NoError(t, s.PublishVersion(ctx, "a2", "v2"))

	hits, err := s.SearchSemantic(ctx, []float32{1, 0}, SearchFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a1", hits[0].AssetID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.0, hits[1].Score, 1e-6)
}

func TestPurgeArchivedVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")
	seedTranscript(t, s, "a1", "v1", "old", []float32{1, 0})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))

	_, err := s.IngestObject(ctx,
		&model.Asset{Bucket: "media", ObjectKey: "a1.wav"},
		&model.AssetVersion{VersionID: "v2"})
	require.NoError(t, err)
	seedTranscript(t, s, "a1", "v2", "new", []float32{0, 1})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v2"))

	n, err := s.PurgeArchivedVersions(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetVersion(ctx, "v1")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
	v2, err := s.GetVersion(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, model.PublishActive, v2.PublishState, "active version must survive the purge")
}

func TestDLQLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddDLQItem(ctx, &model.DLQItem{DLQID: "d1", AssetID: "a1", ErrorCode: "media_decode_failed"}))
	require.NoError(t, s.AddDLQItem(ctx, &model.DLQItem{DLQID: "d2", AssetID: "a2", ErrorCode: "engine_missing"}))

	items, err := s.ListDLQByAsset(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "media_decode_failed", items[0].ErrorCode)

	n, err := s.RemoveDLQByAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	items, err = s.ListDLQByAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUpdateAssetAndJobMirror(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAsset(t, s, "a1", "v1")

	a, err := s.UpdateAsset(ctx, "a1", func(a *model.Asset) error {
		a.Status = model.AssetTranscribing
		a.Attempt = 1
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.AssetTranscribing, a.Status)
	assert.Equal(t, 1, a.Attempt)

	job := &model.Job{JobID: "j1", AssetID: "a1", VersionID: "v1", IdempotencyKey: model.JobIdempotencyKey("a1", "v1", 0)}
	require.NoError(t, s.UpsertJob(ctx, job, model.JobPending))
	require.NoError(t, s.MarkJob(ctx, "j1", model.JobFailed, "decode error"))
	status, ok := s.JobStatus("j1")
	require.True(t, ok)
	assert.Equal(t, model.JobFailed, status)

	err = s.MarkJob(ctx, "j-missing", model.JobCompleted, "")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}
