package pipeline

import (
	"time"

	"subforge/internal/config"
	"subforge/internal/stage"
)

// Stage names in execution order.
const (
	StageExtract    = "extract"
	StageSegment    = "segment"
	StageTranscribe = "transcribe"
	StageTranslate  = "translate"
	StageAssemble   = "assemble"
	StageRemux      = "remux"
)

// Descriptors returns the static stage table for one pipeline run. The
// expensive front half (extraction through transcription) is cacheable; only
// transcription consults the optimizer. Translation is critical only when
// the operator demands translated output; remux degrades to bare subtitles.
func Descriptors(cfg *config.Config) []stage.Descriptor {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return []stage.Descriptor{
		{
			Name:      StageExtract,
			Successor: StageSegment,
			Timeout:   seconds(cfg.Pipeline.ExtractTimeoutSeconds),
			Critical:  true,
			Cacheable: true,
			Artifacts: []string{ArtifactAudio},
		},
		{
			Name:        StageSegment,
			Predecessor: StageExtract,
			Successor:   StageTranscribe,
			Timeout:     seconds(cfg.Pipeline.SegmentTimeoutSeconds),
			Critical:    true,
			Cacheable:   true,
			Artifacts:   []string{ArtifactSegments},
		},
		{
			Name:            StageTranscribe,
			Predecessor:     StageSegment,
			Successor:       StageTranslate,
			Timeout:         seconds(cfg.Pipeline.TranscribeTimeoutSeconds),
			Critical:        true,
			Cacheable:       true,
			Parameterizable: true,
			Artifacts:       []string{ArtifactTranscript},
		},
		{
			Name:        StageTranslate,
			Predecessor: StageTranscribe,
			Successor:   StageAssemble,
			Timeout:     seconds(cfg.Pipeline.TranslateTimeoutSeconds),
			Critical:    cfg.Pipeline.TranslationRequired,
			Artifacts:   []string{ArtifactTranslation},
		},
		{
			Name:        StageAssemble,
			Predecessor: StageTranslate,
			Successor:   StageRemux,
			Timeout:     seconds(cfg.Pipeline.AssembleTimeoutSeconds),
			Critical:    true,
			Artifacts:   []string{ArtifactSubtitles},
		},
		{
			Name:        StageRemux,
			Predecessor: StageAssemble,
			Timeout:     seconds(cfg.Pipeline.RemuxTimeoutSeconds),
			Artifacts:   []string{ArtifactOutput},
		},
	}
}

// StageVersions identifies the artifact-producing logic per cacheable stage.
// Bump a version to invalidate cached baselines for that stage.
func StageVersions() map[string]string {
	return map[string]string{
		StageExtract:    "1",
		StageSegment:    "1",
		StageTranscribe: "1",
	}
}
