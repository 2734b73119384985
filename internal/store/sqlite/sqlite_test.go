// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mediasearch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ingest(t *testing.T, s *Store, assetID, versionID string) {
	t.Helper()
	res, err := s.IngestObject(context.Background(),
		&model.Asset{
			AssetID:   assetID,
			LineageID: "lin-" + assetID,
			Bucket:    "media",
			ObjectKey: assetID + ".wav",
			Status:    model.AssetIngested,
		},
		&model.AssetVersion{VersionID: versionID, Status: model.VersionIngested, PublishState: model.PublishStaging})
	require.NoError(t, err)
	require.True(t, res.Created)
}

func stage(t *testing.T, s *Store, assetID, versionID, text string, vec []float32) {
	t.Helper()
	now := time.Now()
	segID := model.SegmentIDFor(versionID, 0)
	require.NoError(t, s.ReplaceStagingTranscript(context.Background(), assetID, versionID,
		[]*model.Segment{{
			SegmentID: segID, AssetID: assetID, VersionID: versionID,
			StartMS: 0, EndMS: 1000, Text: text, Speaker: "spk_0", Confidence: 0.9,
			Visibility: model.VisibilityStaging, ChunkingStrategy: model.ChunkSentence, CreatedAt: now,
		}},
		[]*model.Embedding{{
			EmbeddingID: segID + "_emb", AssetID: assetID, VersionID: versionID, SegmentID: segID,
			Vector: vec, Dimension: len(vec), Visibility: model.VisibilityStaging, CreatedAt: now,
		}}))
}

func TestIngestIdempotentAndLineage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ingest(t, s, "a1", "v1")

	res, err := s.IngestObject(ctx,
		&model.Asset{AssetID: "a1-dup", Bucket: "media", ObjectKey: "a1.wav"},
		&model.AssetVersion{VersionID: "v1"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "a1", res.Asset.AssetID)

	_, err = s.TombstoneAsset(ctx, "media", "a1.wav")
	require.NoError(t, err)

	res, err = s.IngestObject(ctx,
		&model.Asset{AssetID: "a2", LineageID: "lin-a2", Bucket: "media", ObjectKey: "a1.wav"},
		&model.AssetVersion{VersionID: "v2"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "a2", res.Asset.AssetID)
	assert.Equal(t, "lin-a1", res.Asset.LineageID)
}

func TestPublishCutoverAndSearch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ingest(t, s, "a1", "v1")
	stage(t, s, "a1", "v1", "first transcript", []float32{1, 0})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))

	hits, err := s.SearchKeyword(ctx, store.SearchFilter{Query: "first"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v1", hits[0].VersionID)
	assert.Equal(t, "media", hits[0].Bucket)

	_, err = s.IngestObject(ctx,
		&model.Asset{Bucket: "media", ObjectKey: "a1.wav"},
		&model.AssetVersion{VersionID: "v2"})
	require.NoError(t, err)
	stage(t, s, "a1", "v2", "second transcript", []float32{0, 1})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v2"))

	a, err := s.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "v2", a.CurrentVersionID)
	assert.Equal(t, model.AssetIndexed, a.Status)

	v1, err := s.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.PublishArchived, v1.PublishState)

	hits, err = s.SearchKeyword(ctx, store.SearchFilter{Query: "first"})
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = s.SearchKeyword(ctx, store.SearchFilter{Query: "transcript"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v2", hits[0].VersionID)

	// Re-publishing the current version changes nothing.
	require.NoError(t, s.PublishVersion(ctx, "a1", "v2"))
	hits, err = s.SearchKeyword(ctx, store.SearchFilter{Query: "transcript"})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSemanticSearchRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ingest(t, s, "a1", "v1")
	stage(t, s, "a1", "v1", "close", []float32{1, 0, 0})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))
	ingest(t, s, "a2", "v2")
	stage(t, s, "a2", "v2", "far", []float32{0, 1, 0})
	require.NoError(t, s.PublishVersion(ctx, "a2", "v2"))

	hits, err := s.SearchSemantic(ctx, []float32{1, 0, 0}, store.SearchFilter{Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a1", hits[0].AssetID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	embs, err := s.ListEmbeddings(ctx, "a1", "v1")
	require.NoError(t, err)
	require.Len(t, embs, 1)
	assert.Equal(t, []float32{1, 0, 0}, embs[0].Vector)
}

func TestTombstoneHidesFromSearch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ingest(t, s, "a1", "v1")
	stage(t, s, "a1", "v1", "hello world", []float32{1})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))

	_, err := s.TombstoneAsset(ctx, "media", "a1.wav")
	require.NoError(t, err)

	hits, err := s.SearchKeyword(ctx, store.SearchFilter{Query: "hello"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	segs, err := s.ListSegments(ctx, "a1", "v1")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, model.VisibilitySoftDeleted, segs[0].Visibility)
}

func TestPurgeArchivedVersions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ingest(t, s, "a1", "v1")
	stage(t, s, "a1", "v1", "old", []float32{1})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v1"))
	_, err := s.IngestObject(ctx,
		&model.Asset{Bucket: "media", ObjectKey: "a1.wav"},
		&model.AssetVersion{VersionID: "v2"})
	require.NoError(t, err)
	stage(t, s, "a1", "v2", "new", []float32{1})
	require.NoError(t, s.PublishVersion(ctx, "a1", "v2"))

	n, err := s.PurgeArchivedVersions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetVersion(ctx, "v1")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
	_, err = s.GetVersion(ctx, "v2")
	require.NoError(t, err)
}

func TestJobsMirrorAndDLQ(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := &model.Job{
		JobID: "j1", AssetID: "a1", VersionID: "v1",
		IdempotencyKey: model.JobIdempotencyKey("a1", "v1", 0),
		EnginePolicy:   model.EnginePolicy{Engine: "whisper-1"},
	}
	require.NoError(t, s.UpsertJob(ctx, job, model.JobPending))
	require.NoError(t, s.MarkJob(ctx, "j1", model.JobRunning, ""))
	require.NoError(t, s.MarkJob(ctx, "j1", model.JobFailed, "decode error"))
	err := s.MarkJob(ctx, "missing", model.JobCompleted, "")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	item := &model.DLQItem{
		DLQID: "d1", JobID: "j1", AssetID: "a1", VersionID: "v1",
		ErrorCode: "media_decode_failed", ErrorMessage: "bad header",
		Job: job, Logs: []string{"attempt 5 exhausted"},
	}
	require.NoError(t, s.AddDLQItem(ctx, item))

	items, err := s.ListDLQByAsset(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "media_decode_failed", items[0].ErrorCode)
	require.NotNil(t, items[0].Job)
	assert.Equal(t, "whisper-1", items[0].Job.EnginePolicy.Engine)
	assert.Equal(t, []string{"attempt 5 exhausted"}, items[0].Logs)

	n, err := s.RemoveDLQByAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateAssetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ingest(t, s, "a1", "v1")

	a, err := s.UpdateAsset(ctx, "a1", func(a *model.Asset) error {
		a.Status = model.AssetQuarantined
		a.TriageState = model.TriageNeedsMediaFix
		a.RecommendedAction = "re-encode source media"
		a.LastError = "media_decode_failed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.AssetQuarantined, a.Status)

	// The row read back must match the updated struct field for field,
	// including the timestamp round trip through the text column.
	got, err := s.GetAsset(ctx, "a1")
	require.NoError(t, err)
	if diff := cmp.Diff(a, got, cmp.Comparer(func(x, y time.Time) bool { return x.Equal(y) })); diff != "" {
		t.Fatalf("asset changed across round trip (-want +got):\n%s", diff)
	}

	quarantined, err := s.ListQuarantined(ctx)
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	assert.Equal(t, model.TriageNeedsMediaFix, quarantined[0].TriageState)
}
