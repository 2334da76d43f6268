package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"subforge/internal/config"
	"subforge/internal/features"
	"subforge/internal/identity"
	"subforge/internal/logging"
	"subforge/internal/manifest"
	"subforge/internal/media/ffprobe"
	"subforge/internal/pipeline"
	"subforge/internal/queue"
	"subforge/internal/similarity"
	"subforge/internal/stage"
	"subforge/internal/testsupport"
	"subforge/internal/workflow"
)

const transcriptJSON = `{"language":"ja","model":"medium","lines":[{"start":0,"end":2,"text":"Konnichiwa"},{"start":2,"end":4,"text":"Genki desu ka"}]}`

const translationJSON = `{"source_language":"ja","target_language":"en","lines":[{"start":0,"end":2,"text":"Hello"},{"start":2,"end":4,"text":"How are you"}]}`

// stubStage records invocations and writes its declared artifacts.
type stubStage struct {
	files  map[string]string
	err    error
	onExec func(job *stage.Job)
	calls  int
}

func (s *stubStage) Execute(_ context.Context, job *stage.Job) error {
	s.calls++
	if s.onExec != nil {
		s.onExec(job)
	}
	if s.err != nil {
		return s.err
	}
	for name, content := range s.files {
		if err := os.WriteFile(filepath.Join(job.Dir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func testProbeResult() ffprobe.Result {
	return ffprobe.Result{
		Streams: []ffprobe.Stream{{Index: 0, CodecType: "audio", CodecName: "aac", Channels: 2, Tags: ffprobe.Tags{Language: "ja"}}},
		Format:  ffprobe.Format{Duration: "120.0"},
	}
}

func testMeasurer(context.Context, string) (float64, error) { return -30, nil }

type env struct {
	mgr   *workflow.Manager
	store *queue.Store
	cfg   *config.Config
	stubs map[string]*stubStage
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, logging.NewNop())

	probe := func(context.Context, string) (ffprobe.Result, error) {
		return testProbeResult(), nil
	}
	svc := identity.NewService("ffmpeg", "ffprobe").
		WithProber(probe).
		WithDecoder(func(_ context.Context, source string, offset, _ float64) ([]byte, error) {
			return bytes.Repeat([]byte(fmt.Sprintf("%s@%.1f|", filepath.Base(source), offset)), 1024), nil
		})
	mgr.WithIdentityService(svc)
	mgr.WithProber(probe)
	mgr.WithFeatureExtractor(features.NewExtractor("ffmpeg").WithMeasurer(testMeasurer))

	stubs := map[string]*stubStage{
		pipeline.StageExtract: {files: map[string]string{pipeline.ArtifactAudio: "pcm"}},
		pipeline.StageSegment: {files: map[string]string{pipeline.ArtifactSegments: `{"source":"audio.wav","segments":[{"start":0,"end":120}]}`}},
		pipeline.StageTranscribe: {
			files:  map[string]string{pipeline.ArtifactTranscript: transcriptJSON},
			onExec: func(job *stage.Job) { job.DetectedLanguage = "ja" },
		},
		pipeline.StageTranslate: {files: map[string]string{pipeline.ArtifactTranslation: translationJSON}},
		pipeline.StageAssemble:  {files: map[string]string{pipeline.ArtifactSubtitles: "1\n00:00:00,000 --> 00:00:02,000\nHello\n"}},
		pipeline.StageRemux:     {files: map[string]string{pipeline.ArtifactOutput: "mkv"}},
	}
	for name, stub := range stubs {
		mgr.WithHandler(name, stub)
	}

	return &env{mgr: mgr, store: store, cfg: cfg, stubs: stubs}
}

func (e *env) enqueue(t *testing.T, name string) *queue.Job {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(e.cfg), name)
	testsupport.WriteFile(t, path, 4096)
	job, err := e.mgr.Enqueue(context.Background(), path)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func (e *env) reload(t *testing.T, id int64) *queue.Job {
	t.Helper()
	job, err := e.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job == nil {
		t.Fatalf("job %d missing", id)
	}
	return job
}

func TestProcessFreshJob(t *testing.T) {
	e := newEnv(t)
	queued := e.enqueue(t, "movie.mkv")

	processed, err := e.mgr.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if !processed {
		t.Fatal("expected a job to be processed")
	}

	job := e.reload(t, queued.ID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed: %s", job.Status, job.ErrorMessage)
	}
	if job.MediaID == "" || job.ConfigFingerprint == "" {
		t.Fatal("expected media identity and config fingerprint on completion")
	}
	if job.DetectedLanguage != "ja" {
		t.Fatalf("detected language = %q, want ja", job.DetectedLanguage)
	}
	if !strings.HasSuffix(job.FinalFile, ".en.mkv") {
		t.Fatalf("final file = %q, want remuxed container", job.FinalFile)
	}
	if _, err := os.Stat(job.FinalFile); err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	for name, stub := range e.stubs {
		if stub.calls != 1 {
			t.Fatalf("stage %s ran %d times, want 1", name, stub.calls)
		}
	}

	entries, err := e.mgr.Cache().List()
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("cache entries = %d, want 1", len(entries))
	}
	records, err := e.mgr.SimilarityIndex().Records()
	if err != nil {
		t.Fatalf("index records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("similarity records = %d, want 1", len(records))
	}
	if _, err := os.Stat(job.JobDir); !os.IsNotExist(err) {
		t.Fatalf("staging dir should be cleaned after completion, stat err = %v", err)
	}
}

func TestProcessExactRepeatServedFromCache(t *testing.T) {
	e := newEnv(t)
	e.enqueue(t, "movie.mkv")
	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	repeat := e.enqueue(t, "movie.mkv")
	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("repeat run: %v", err)
	}

	job := e.reload(t, repeat.ID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("repeat status = %s, want completed: %s", job.Status, job.ErrorMessage)
	}
	for _, name := range []string{pipeline.StageExtract, pipeline.StageSegment, pipeline.StageTranscribe} {
		if got := e.stubs[name].calls; got != 1 {
			t.Fatalf("cacheable stage %s ran %d times across both jobs, want 1", name, got)
		}
	}
	for _, name := range []string{pipeline.StageTranslate, pipeline.StageAssemble, pipeline.StageRemux} {
		if got := e.stubs[name].calls; got != 2 {
			t.Fatalf("stage %s ran %d times across both jobs, want 2", name, got)
		}
	}
}

func TestProcessResumesAfterInterrupt(t *testing.T) {
	e := newEnv(t, testsupport.WithCacheDisabled())
	queued := e.enqueue(t, "movie.mkv")

	ctx, cancel := context.WithCancel(context.Background())
	e.stubs[pipeline.StageTranslate].onExec = func(*stage.Job) { cancel() }
	e.stubs[pipeline.StageTranslate].err = context.Canceled

	_, err := e.mgr.ProcessNext(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("interrupted run err = %v, want context.Canceled", err)
	}
	job := e.reload(t, queued.ID)
	if job.Status != queue.StatusPending {
		t.Fatalf("interrupted status = %s, want pending for resume", job.Status)
	}

	man, err := manifest.Load(job.JobDir)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if record, _ := man.StageRecordFor(pipeline.StageTranslate); record.Status != manifest.StatusPending {
		t.Fatalf("translate record = %s, want pending after interrupt", record.Status)
	}

	e.stubs[pipeline.StageTranslate].onExec = nil
	e.stubs[pipeline.StageTranslate].err = nil
	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("resumed run: %v", err)
	}

	job = e.reload(t, queued.ID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("resumed status = %s, want completed: %s", job.Status, job.ErrorMessage)
	}
	for _, name := range []string{pipeline.StageExtract, pipeline.StageSegment, pipeline.StageTranscribe} {
		if got := e.stubs[name].calls; got != 1 {
			t.Fatalf("stage %s ran %d times, want 1 (resume must skip completed work)", name, got)
		}
	}
	if got := e.stubs[pipeline.StageTranslate].calls; got != 2 {
		t.Fatalf("translate ran %d times, want 2 (aborted attempt plus resume)", got)
	}
}

func TestProcessCorruptManifestRestartsFromScratch(t *testing.T) {
	e := newEnv(t, testsupport.WithCacheDisabled())
	queued := e.enqueue(t, "movie.mkv")

	ctx, cancel := context.WithCancel(context.Background())
	e.stubs[pipeline.StageTranslate].onExec = func(*stage.Job) { cancel() }
	e.stubs[pipeline.StageTranslate].err = context.Canceled
	if _, err := e.mgr.ProcessNext(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("interrupted run err = %v, want context.Canceled", err)
	}

	job := e.reload(t, queued.ID)
	testsupport.WriteText(t, manifest.Path(job.JobDir), "{not json")

	e.stubs[pipeline.StageTranslate].onExec = nil
	e.stubs[pipeline.StageTranslate].err = nil
	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("restarted run: %v", err)
	}

	job = e.reload(t, queued.ID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed: %s", job.Status, job.ErrorMessage)
	}
	if got := e.stubs[pipeline.StageExtract].calls; got != 2 {
		t.Fatalf("extract ran %d times, want 2 (corrupt manifest redoes completed stages)", got)
	}
}

func TestProcessCriticalFailureStopsJob(t *testing.T) {
	e := newEnv(t)
	queued := e.enqueue(t, "movie.mkv")
	e.stubs[pipeline.StageTranscribe].err = errors.New("model load failed")

	if _, err := e.mgr.ProcessNext(context.Background()); err == nil {
		t.Fatal("expected processing error for critical stage failure")
	}

	job := e.reload(t, queued.ID)
	if job.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "transcribe") {
		t.Fatalf("error message %q should name the failed stage", job.ErrorMessage)
	}
	if e.stubs[pipeline.StageTranslate].calls != 0 {
		t.Fatal("downstream stages must not run after a critical failure")
	}

	man, err := manifest.Load(job.JobDir)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if record, _ := man.StageRecordFor(pipeline.StageTranscribe); record.Status != manifest.StatusFailed {
		t.Fatalf("transcribe record = %s, want failed", record.Status)
	}
}

func TestProcessNonCriticalRemuxFailureDegrades(t *testing.T) {
	e := newEnv(t)
	queued := e.enqueue(t, "movie.mkv")
	e.stubs[pipeline.StageRemux].err = errors.New("mkvmerge unavailable")

	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	job := e.reload(t, queued.ID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed despite remux failure: %s", job.Status, job.ErrorMessage)
	}
	if !strings.HasSuffix(job.FinalFile, ".en.srt") {
		t.Fatalf("final file = %q, want bare subtitles when remux degrades", job.FinalFile)
	}
	if _, err := os.Stat(job.FinalFile); err != nil {
		t.Fatalf("final file missing: %v", err)
	}
}

func TestProcessUnreadableMediaFailsJob(t *testing.T) {
	e := newEnv(t)
	queued := e.enqueue(t, "movie.mkv")
	e.mgr.WithIdentityService(identity.NewService("ffmpeg", "ffprobe").
		WithProber(func(context.Context, string) (ffprobe.Result, error) {
			return ffprobe.Result{}, errors.New("no audio stream")
		}))

	if _, err := e.mgr.ProcessNext(context.Background()); err == nil {
		t.Fatal("expected error for unreadable media")
	}

	job := e.reload(t, queued.ID)
	if job.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if e.stubs[pipeline.StageExtract].calls != 0 {
		t.Fatal("no stage may run without a media identity")
	}
}

func TestProcessNextEmptyQueue(t *testing.T) {
	e := newEnv(t)
	processed, err := e.mgr.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if processed {
		t.Fatal("expected no work on an empty queue")
	}
}

func TestProcessSimilarInputReusesParameters(t *testing.T) {
	e := newEnv(t)
	queued := e.enqueue(t, "movie.mkv")

	// Seed history with an outcome for different content whose features
	// match the input exactly; its tuned parameters should win over the
	// static defaults.
	vector := features.NewExtractor("ffmpeg").WithMeasurer(testMeasurer).
		Extract(context.Background(), "seed.mkv", testProbeResult())
	if err := e.mgr.SimilarityIndex().Append(similarity.Record{
		MediaID:  "other-content",
		Features: vector,
		Params:   stage.Params{TranscribeModel: "large-v3", BeamSize: 8, VADAggressiveness: 3, ChunkSeconds: 45},
		Outcome:  similarity.Outcome{Quality: 1, Seconds: 40},
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	job := e.reload(t, queued.ID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed: %s", job.Status, job.ErrorMessage)
	}
	if job.ParamsOrigin != "similarity" {
		t.Fatalf("params origin = %q, want similarity", job.ParamsOrigin)
	}
	if !strings.Contains(job.ParamsJSON, "large-v3") {
		t.Fatalf("params %q should carry the reused model", job.ParamsJSON)
	}
	if got := e.stubs[pipeline.StageTranscribe].calls; got != 1 {
		t.Fatalf("transcribe ran %d times, want 1 (similarity reuses parameters, never artifacts)", got)
	}
}

func TestProcessNearDuplicateArtifactReuse(t *testing.T) {
	e := newEnv(t)
	e.cfg.Similarity.AllowArtifactReuse = true

	e.enqueue(t, "one.mkv")
	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	near := e.enqueue(t, "two.mkv")
	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("near-duplicate run: %v", err)
	}

	job := e.reload(t, near.ID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed: %s", job.Status, job.ErrorMessage)
	}
	for _, name := range []string{pipeline.StageExtract, pipeline.StageSegment, pipeline.StageTranscribe} {
		if got := e.stubs[name].calls; got != 1 {
			t.Fatalf("stage %s ran %d times across both jobs, want 1 (near-duplicate baseline reused)", name, got)
		}
	}
	for _, name := range []string{pipeline.StageTranslate, pipeline.StageAssemble, pipeline.StageRemux} {
		if got := e.stubs[name].calls; got != 2 {
			t.Fatalf("stage %s ran %d times across both jobs, want 2", name, got)
		}
	}
}

func TestProcessDistinctInputStaysFreshWithoutOptIn(t *testing.T) {
	e := newEnv(t)

	e.enqueue(t, "one.mkv")
	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	e.enqueue(t, "two.mkv")
	if _, err := e.mgr.ProcessNext(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// Matching features license parameter reuse only; without the opt-in,
	// another recording's cached artifacts are never restored.
	if got := e.stubs[pipeline.StageTranscribe].calls; got != 2 {
		t.Fatalf("transcribe ran %d times, want 2", got)
	}
}

func TestProcessQueueStopsWhenStoreFails(t *testing.T) {
	e := newEnv(t)
	e.enqueue(t, "movie.mkv")
	if err := e.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.mgr.ProcessQueue(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error from a failing queue store")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessQueue kept retrying a persistently failing store")
	}
}

func TestProcessQueueDrainsAllPending(t *testing.T) {
	e := newEnv(t)
	e.enqueue(t, "one.mkv")
	e.enqueue(t, "two.mkv")

	if err := e.mgr.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}

	health, err := e.store.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Completed != 2 || health.Pending != 0 {
		t.Fatalf("health = %+v, want 2 completed and 0 pending", health)
	}
}
