package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subforge/internal/logging"
	"subforge/internal/media/ffprobe"
	"subforge/internal/pipeline"
	"subforge/internal/services"
	"subforge/internal/stage"
	"subforge/internal/terms"
	"subforge/internal/testsupport"
)

type call struct {
	name string
	args []string
}

func stubRunner(calls *[]call, fn func(c call) error) func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		c := call{name: name, args: args}
		if calls != nil {
			*calls = append(*calls, c)
		}
		if fn != nil {
			if err := fn(c); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func writeTranscript(t *testing.T, dir string, transcript pipeline.Transcript) {
	t.Helper()
	payload, err := json.Marshal(transcript)
	if err != nil {
		t.Fatalf("marshal transcript: %v", err)
	}
	testsupport.WriteText(t, filepath.Join(dir, "transcript.json"), string(payload))
}

func TestDescriptorsChainIsConsistent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	descriptors := pipeline.Descriptors(cfg)
	if len(descriptors) != 6 {
		t.Fatalf("expected 6 stages, got %d", len(descriptors))
	}
	for i, d := range descriptors {
		if i > 0 && d.Predecessor != descriptors[i-1].Name {
			t.Errorf("stage %s predecessor %q does not match prior stage %q", d.Name, d.Predecessor, descriptors[i-1].Name)
		}
		if i < len(descriptors)-1 && d.Successor != descriptors[i+1].Name {
			t.Errorf("stage %s successor %q does not match next stage %q", d.Name, d.Successor, descriptors[i+1].Name)
		}
		if len(d.Artifacts) == 0 {
			t.Errorf("stage %s declares no artifacts", d.Name)
		}
	}
	last := descriptors[len(descriptors)-1]
	if last.NextName() != stage.TerminalNext {
		t.Fatalf("final stage must record the terminal next stage, got %q", last.NextName())
	}
	for _, d := range descriptors {
		if d.Cacheable {
			if _, ok := pipeline.StageVersions()[d.Name]; !ok {
				t.Errorf("cacheable stage %s missing a stage version", d.Name)
			}
		}
	}
}

func TestTranslationCriticalityFollowsConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.TranslationRequired = true
	for _, d := range pipeline.Descriptors(cfg) {
		if d.Name == pipeline.StageTranslate && !d.Critical {
			t.Fatal("translate must be critical when translation is required")
		}
	}
}

func TestExtractorInvokesFFmpeg(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var calls []call
	extractor := pipeline.NewExtractor(cfg, logging.NewNop()).WithRunner(stubRunner(&calls, nil))

	job := &stage.Job{SourcePath: "/media/input/movie.mkv", Dir: t.TempDir()}
	if err := extractor.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 command, got %d", len(calls))
	}
	args := calls[0].args
	if !hasArg(args, "/media/input/movie.mkv") {
		t.Fatalf("source path missing from args: %v", args)
	}
	if !hasArg(args, "16000") || !hasArg(args, "pcm_s16le") {
		t.Fatalf("normalization flags missing from args: %v", args)
	}
}

func TestExtractorWrapsFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	extractor := pipeline.NewExtractor(cfg, logging.NewNop()).WithRunner(stubRunner(nil, func(call) error {
		return errors.New("exit status 1")
	}))

	err := extractor.Execute(context.Background(), &stage.Job{SourcePath: "/in.mkv", Dir: t.TempDir()})
	if !errors.Is(err, services.ErrStageFailure) {
		t.Fatalf("expected stage failure marker, got %v", err)
	}
}

func TestSegmenterWritesSegments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()

	segmenter := pipeline.NewSegmenter(cfg, logging.NewNop()).
		WithProber(func(context.Context, string) (ffprobe.Result, error) {
			return ffprobe.Result{Format: ffprobe.Format{Duration: "60.0"}}, nil
		}).
		WithRunner(func(context.Context, string, ...string) ([]byte, error) {
			return []byte("silence_start: 20\nsilence_end: 22 | silence_duration: 2\n"), nil
		})

	job := &stage.Job{Dir: dir, Params: stage.Params{ChunkSeconds: 30}}
	if err := segmenter.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	payload, err := os.ReadFile(filepath.Join(dir, "segments.json"))
	if err != nil {
		t.Fatalf("read segments: %v", err)
	}
	var list pipeline.SegmentList
	if err := json.Unmarshal(payload, &list); err != nil {
		t.Fatalf("parse segments: %v", err)
	}
	if len(list.Segments) < 2 {
		t.Fatalf("expected silence to split segments, got %+v", list.Segments)
	}
}

func TestTranscriberSetsDetectedLanguage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()

	var calls []call
	transcriber := pipeline.NewTranscriber(cfg, logging.NewNop()).
		WithRunner(stubRunner(&calls, func(call) error {
			writeTranscript(t, dir, pipeline.Transcript{
				Language: "jpn",
				Lines:    []pipeline.Line{{Start: 0, End: 2, Text: "こんにちは"}},
			})
			return nil
		}))

	job := &stage.Job{
		Dir:            dir,
		SourceLanguage: "auto",
		Params:         stage.Params{TranscribeModel: "medium", BeamSize: 5, VADAggressiveness: 2, ChunkSeconds: 30},
	}
	if err := transcriber.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if job.DetectedLanguage != "ja" {
		t.Fatalf("expected canonical detected language ja, got %q", job.DetectedLanguage)
	}
	args := calls[0].args
	if !hasArg(args, "medium") || !hasArg(args, "--beam-size") {
		t.Fatalf("params missing from args: %v", args)
	}
	if hasArg(args, "--language") {
		t.Fatalf("auto source must not pin a language: %v", args)
	}
}

func TestTranscriberRejectsEmptyTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()

	transcriber := pipeline.NewTranscriber(cfg, logging.NewNop()).
		WithRunner(stubRunner(nil, func(call) error {
			writeTranscript(t, dir, pipeline.Transcript{Language: "en"})
			return nil
		}))

	err := transcriber.Execute(context.Background(), &stage.Job{Dir: dir, Params: stage.Params{TranscribeModel: "medium"}})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
}

func TestTranslatorPassThroughWhenLanguagesMatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	writeTranscript(t, dir, pipeline.Transcript{
		Language: "en",
		Lines:    []pipeline.Line{{Start: 0, End: 2, Text: "hello"}},
	})

	var calls []call
	translator := pipeline.NewTranslator(cfg, nil, logging.NewNop()).WithRunner(stubRunner(&calls, nil))
	job := &stage.Job{Dir: dir, DetectedLanguage: "en", TargetLanguage: "en"}
	if err := translator.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(calls) != 0 {
		t.Fatal("pass-through must not invoke the translator binary")
	}

	translation, err := pipeline.ReadTranslation(dir)
	if err != nil {
		t.Fatalf("ReadTranslation failed: %v", err)
	}
	if len(translation.Lines) != 1 || translation.Lines[0].Text != "hello" {
		t.Fatalf("unexpected pass-through translation: %#v", translation)
	}
}

func TestTranslatorPassesContextTerms(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.GlossaryPath = filepath.Join(testsupport.BaseDir(cfg), "glossary.toml")
	testsupport.WriteText(t, cfg.Paths.GlossaryPath, "[[term]]\nterm = \"Shinkansen\"\ntranslation = \"bullet train\"\ncategory = \"cultural\"\n")

	dir := t.TempDir()
	writeTranscript(t, dir, pipeline.Transcript{
		Language: "ja",
		Lines:    []pipeline.Line{{Start: 0, End: 2, Text: "新幹線"}},
	})

	var calls []call
	store := terms.NewStore(cfg, logging.NewNop())
	translator := pipeline.NewTranslator(cfg, store, logging.NewNop()).
		WithRunner(stubRunner(&calls, func(c call) error {
			payload, _ := json.Marshal(pipeline.Translation{
				SourceLanguage: "ja",
				TargetLanguage: "en",
				Lines:          []pipeline.Line{{Start: 0, End: 2, Text: "bullet train"}},
			})
			testsupport.WriteText(t, filepath.Join(dir, "translation.json"), string(payload))
			return nil
		}))

	job := &stage.Job{Dir: dir, DetectedLanguage: "ja", TargetLanguage: "en"}
	if err := translator.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 translator invocation, got %d", len(calls))
	}
	if !hasArg(calls[0].args, "--context") {
		t.Fatalf("expected glossary context to be passed: %v", calls[0].args)
	}
	if _, err := os.Stat(filepath.Join(dir, "context_terms.json")); err != nil {
		t.Fatalf("context terms file missing: %v", err)
	}
}

func TestAssemblerPrefersTranslation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	writeTranscript(t, dir, pipeline.Transcript{
		Language: "ja",
		Lines:    []pipeline.Line{{Start: 0, End: 2, Text: "原文"}},
	})
	payload, _ := json.Marshal(pipeline.Translation{
		SourceLanguage: "ja",
		TargetLanguage: "en",
		Lines:          []pipeline.Line{{Start: 0, End: 2, Text: "translated"}},
	})
	testsupport.WriteText(t, filepath.Join(dir, "translation.json"), string(payload))

	assembler := pipeline.NewAssembler(cfg, logging.NewNop())
	if err := assembler.Execute(context.Background(), &stage.Job{Dir: dir}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	srt, err := os.ReadFile(filepath.Join(dir, "subtitles.srt"))
	if err != nil {
		t.Fatalf("read subtitles: %v", err)
	}
	if !strings.Contains(string(srt), "translated") || strings.Contains(string(srt), "原文") {
		t.Fatalf("expected translated cues, got:\n%s", srt)
	}
}

func TestAssemblerFallsBackToTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	writeTranscript(t, dir, pipeline.Transcript{
		Language: "ja",
		Lines:    []pipeline.Line{{Start: 0, End: 2, Text: "原文"}},
	})

	assembler := pipeline.NewAssembler(cfg, logging.NewNop())
	if err := assembler.Execute(context.Background(), &stage.Job{Dir: dir}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	srt, err := os.ReadFile(filepath.Join(dir, "subtitles.srt"))
	if err != nil {
		t.Fatalf("read subtitles: %v", err)
	}
	if !strings.Contains(string(srt), "原文") {
		t.Fatalf("expected transcript fallback cues, got:\n%s", srt)
	}
}

func TestRemuxerMapsSubtitleStream(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var calls []call
	remuxer := pipeline.NewRemuxer(cfg, logging.NewNop()).WithRunner(stubRunner(&calls, nil))

	dir := t.TempDir()
	job := &stage.Job{SourcePath: "/media/input/movie.mkv", Dir: dir, TargetLanguage: "en"}
	if err := remuxer.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	args := calls[0].args
	if !hasArg(args, filepath.Join(dir, "subtitles.srt")) {
		t.Fatalf("subtitle input missing: %v", args)
	}
	if !hasArg(args, "copy") {
		t.Fatalf("expected stream copy, got: %v", args)
	}
	if !hasArg(args, "language=en") {
		t.Fatalf("expected subtitle language metadata, got: %v", args)
	}
}

func TestExtractCandidatesRequiresRecurrence(t *testing.T) {
	transcript := pipeline.Transcript{
		Lines: []pipeline.Line{
			{Text: "Once upon a time Captain Harlock sailed."},
			{Text: "They say Captain Harlock never returned."},
			{Text: "Tokyo was quiet that night."},
		},
	}
	candidates := pipeline.ExtractCandidates(transcript, "media-1")
	if len(candidates) != 1 {
		t.Fatalf("expected 1 recurring candidate, got %#v", candidates)
	}
	if candidates[0].Term != "Captain Harlock" {
		t.Fatalf("unexpected candidate: %#v", candidates[0])
	}
	if candidates[0].Source != "media-1" {
		t.Fatalf("expected source recorded, got %#v", candidates[0])
	}
}

func TestExtractCandidatesIgnoresSentenceInitialCapitals(t *testing.T) {
	transcript := pipeline.Transcript{
		Lines: []pipeline.Line{
			{Text: "Hello there."},
			{Text: "Hello again."},
		},
	}
	if candidates := pipeline.ExtractCandidates(transcript, "media-1"); len(candidates) != 0 {
		t.Fatalf("sentence-initial words must not qualify, got %#v", candidates)
	}
}
