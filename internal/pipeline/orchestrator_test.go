// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediasearch/internal/asr"
	"github.com/ManuGH/mediasearch/internal/config"
	"github.com/ManuGH/mediasearch/internal/embed"
	"github.com/ManuGH/mediasearch/internal/ingest"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/ManuGH/mediasearch/internal/objstore"
	"github.com/ManuGH/mediasearch/internal/queue"
	"github.com/ManuGH/mediasearch/internal/segment"
	"github.com/ManuGH/mediasearch/internal/store"
)

const testDim = 8

type pipelineFixture struct {
	objects *objstore.FSStore
	db      *store.MemoryStore
	jobs    *queue.MemoryQueue
	engine  *asr.StubEngine
	ctrl    *ingest.Controller
	orch    *Orchestrator
	retry   *RetryManager
}

func newPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	objects, err := objstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	db := store.NewMemoryStore()
	jobs := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = jobs.Close(); _ = objects.Close() })

	engine := asr.NewStubEngine()
	retry := NewRetryManager(db, jobs, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	orch := NewOrchestrator(db, objects, jobs, asr.Registry{"stub": engine}, embed.NewLocalEmbedder(testDim, 0),
		NewPublisher(db), retry, OrchestratorConfig{
			SemanticEnabled: true,
			EmbedDimension:  testDim,
			WindowMS:        segment.DefaultWindowMS,
		})
	ctrl := ingest.NewController(objects, db, jobs, "media", config.EnginePolicySeed{Engine: "stub"})
	return &pipelineFixture{objects: objects, db: db, jobs: jobs, engine: engine, ctrl: ctrl, orch: orch, retry: retry}
}

// upload puts an object and runs the created event through ingest.
func (f *pipelineFixture) upload(t *testing.T, key string, data []byte) *model.Asset {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.objects.Put(ctx, "media", key, data, "audio/wav"))
	require.NoError(t, f.ctrl.HandleEvent(ctx, model.ObjectEvent{
		Type: model.ObjectCreated, Bucket: "media", ObjectKey: key,
	}))
	a, err := f.db.GetAssetByObject(ctx, "media", key)
	require.NoError(t, err)
	return a
}

// drain runs queued jobs through the orchestrator handler until the queue is
// empty, waiting out retry delays.
func (f *pipelineFixture) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for f.jobs.Depth() > 0 {
		require.True(t, time.Now().Before(deadline), "queue did not drain")
		job, err := f.jobs.Pop(ctx)
		require.NoError(t, err)
		_ = f.orch.Handle(ctx, job)
	}
}

func TestHappyPathPublishes(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	a := f.upload(t, "episode.wav", []byte("audio payload"))

	f.drain(t)

	got, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetIndexed, got.Status)
	require.NotEmpty(t, got.CurrentVersionID)

	segs, err := f.db.ListSegments(ctx, a.AssetID, got.CurrentVersionID)
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	assert.Equal(t, model.VisibilityActive, segs[0].Visibility)

	embs, err := f.db.ListEmbeddings(ctx, a.AssetID, got.CurrentVersionID)
	require.NoError(t, err)
	assert.Len(t, embs, len(segs))

	hits, err := f.db.SearchKeyword(ctx, store.SearchFilter{Query: "transcript"})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestEmptyTranscriptStillPublishes(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	f.engine.Fixed = &asr.Result{Segments: nil, DurationMS: 1500, Engine: "stub"}
	a := f.upload(t, "silence.wav", []byte("audio payload"))

	f.drain(t)

	// A silent recording still runs the pipeline to completion: the version
	// goes ACTIVE with nothing searchable in it.
	got, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetIndexed, got.Status)
	require.NotEmpty(t, got.CurrentVersionID)

	ver, err := f.db.GetVersion(ctx, got.CurrentVersionID)
	require.NoError(t, err)
	assert.Equal(t, model.PublishActive, ver.PublishState)

	segs, err := f.db.ListSegments(ctx, a.AssetID, got.CurrentVersionID)
	require.NoError(t, err)
	assert.Empty(t, segs)

	embs, err := f.db.ListEmbeddings(ctx, a.AssetID, got.CurrentVersionID)
	require.NoError(t, err)
	assert.Empty(t, embs)

	hits, err := f.db.SearchKeyword(ctx, store.SearchFilter{Query: "silence"})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, f.jobs.DLQLen())
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	f.engine.NextErrors = []error{
		model.E(model.KindTransientNetwork, "unavailable", "engine unavailable"),
		model.E(model.KindTransientNetwork, "unavailable", "engine unavailable"),
	}
	a := f.upload(t, "episode.wav", []byte("audio payload"))

	f.drain(t)

	got, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetIndexed, got.Status)
	assert.Equal(t, 3, f.engine.Calls(), "two failures then one success")
	assert.Zero(t, f.jobs.DLQLen())
}

func TestTerminalFailureQuarantines(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	f.engine.NextErrors = []error{
		model.E(model.KindMediaFormat, "bad_codec", "unsupported codec"),
	}
	a := f.upload(t, "episode.wav", []byte("audio payload"))

	f.drain(t)

	got, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetQuarantined, got.Status)
	assert.Equal(t, model.TriageNeedsMediaFix, got.TriageState)
	assert.Equal(t, 1, f.engine.Calls(), "terminal failures must not retry")
	assert.Equal(t, 1, f.jobs.DLQLen())
}

func TestRetriesExhaustQuarantines(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	transient := model.E(model.KindTransientNetwork, "unavailable", "engine unavailable")
	f.engine.NextErrors = []error{transient, transient, transient}
	a := f.upload(t, "episode.wav", []byte("audio payload"))

	f.drain(t)

	got, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetQuarantined, got.Status)
	assert.Equal(t, 3, f.engine.Calls(), "MaxAttempts bounds the total tries")
	assert.Contains(t, got.RecommendedAction, "retries exhausted")
}

func TestQuarantineThenOperatorRetrySucceeds(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	f.engine.NextErrors = []error{
		model.E(model.KindEngineConfig, "engine_unknown", "model not found"),
	}
	a := f.upload(t, "episode.wav", []byte("audio payload"))
	f.drain(t)

	got, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	require.Equal(t, model.AssetQuarantined, got.Status)

	_, err = f.retry.Retry(ctx, a.AssetID)
	require.NoError(t, err)
	f.drain(t)

	got, err = f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetIndexed, got.Status)
}

func TestReuploadSupersedesPublishedVersion(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	a := f.upload(t, "episode.wav", []byte("take one"))
	f.drain(t)

	first, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	firstVersion := first.CurrentVersionID

	f.upload(t, "episode.wav", []byte("take two with different content"))
	f.drain(t)

	second, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.NotEqual(t, firstVersion, second.CurrentVersionID)

	old, err := f.db.GetVersion(ctx, firstVersion)
	require.NoError(t, err)
	assert.Equal(t, model.PublishArchived, old.PublishState)

	// Exactly one version's rows are visible.
	hits, err := f.db.SearchKeyword(ctx, store.SearchFilter{Query: "transcript"})
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, second.CurrentVersionID, h.VersionID)
	}
}

func TestTombstonedAssetDropsJob(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	a := f.upload(t, "episode.wav", []byte("audio payload"))

	require.NoError(t, f.ctrl.HandleEvent(ctx, model.ObjectEvent{
		Type: model.ObjectRemoved, Bucket: "media", ObjectKey: "episode.wav",
	}))
	f.drain(t)

	got, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetDeleted, got.Status)
	assert.Zero(t, f.engine.Calls(), "tombstoned assets must not be transcribed")
}

func TestRedeliveredJobIsIdempotent(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	a := f.upload(t, "episode.wav", []byte("audio payload"))

	job, err := f.jobs.Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, f.orch.Handle(ctx, job))
	// Simulate an at-least-once duplicate delivery of the same job.
	require.NoError(t, f.orch.Handle(ctx, job))

	got, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetIndexed, got.Status)
	assert.Equal(t, 1, f.engine.Calls(), "the idempotency gate must short-circuit the duplicate")

	segs, err := f.db.ListSegments(ctx, a.AssetID, got.CurrentVersionID)
	require.NoError(t, err)
	assert.Len(t, segs, 1)
}

func TestEmbeddingDimensionMismatchQuarantines(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	// Orchestrator expects testDim; give it an embedder with another width.
	f.orch.embedder = embed.NewLocalEmbedder(testDim+1, 0)
	a := f.upload(t, "episode.wav", []byte("audio payload"))

	f.drain(t)

	got, err := f.db.GetAsset(ctx, a.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetQuarantined, got.Status)
	assert.Equal(t, model.TriageNeedsEngineTuning, got.TriageState)
}
