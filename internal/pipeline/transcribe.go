package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"subforge/internal/config"
	"subforge/internal/features"
	"subforge/internal/logging"
	"subforge/internal/services"
	"subforge/internal/stage"
)

// Transcriber invokes the configured speech-to-text collaborator over the
// extracted audio and validates its transcript artifact. It is the only
// parameterizable stage: model, beam size, VAD aggressiveness, and chunk
// length all come from job params.
type Transcriber struct {
	cfg    *config.Config
	logger *slog.Logger
	run    commandRunner
}

// NewTranscriber constructs the transcription handler.
func NewTranscriber(cfg *config.Config, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "transcribe"),
		run:    runCommand,
	}
}

// WithRunner overrides the command runner (tests).
func (t *Transcriber) WithRunner(run commandRunner) *Transcriber {
	t.run = run
	return t
}

func (t *Transcriber) Execute(ctx context.Context, job *stage.Job) error {
	target := filepath.Join(job.Dir, ArtifactTranscript)
	args := []string{
		"--model", job.Params.TranscribeModel,
		"--beam-size", strconv.Itoa(job.Params.BeamSize),
		"--vad", strconv.Itoa(job.Params.VADAggressiveness),
		"--segments", filepath.Join(job.Dir, ArtifactSegments),
		"--output", target,
	}
	if lang := strings.TrimSpace(job.SourceLanguage); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "--language", lang)
	}
	args = append(args, filepath.Join(job.Dir, ArtifactAudio))

	logging.WithContext(ctx, t.logger).Info("transcribing audio",
		logging.String("model", job.Params.TranscribeModel),
		logging.Int("beam_size", job.Params.BeamSize))
	if _, err := t.run(ctx, t.cfg.TranscriberBinary(), args...); err != nil {
		return services.Wrap(services.ErrStageFailure, StageTranscribe, "transcriber", "transcription failed", err)
	}

	transcript, err := ReadTranscript(job.Dir)
	if err != nil {
		return err
	}
	if len(transcript.Lines) == 0 {
		return services.Wrap(services.ErrValidation, StageTranscribe, "validate", "transcript has no lines", nil)
	}
	job.DetectedLanguage = features.CanonicalLanguage(transcript.Language)
	return nil
}

// ReadTranscript loads and validates the transcript artifact from a job
// directory.
func ReadTranscript(dir string) (Transcript, error) {
	payload, err := os.ReadFile(filepath.Join(dir, ArtifactTranscript))
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrValidation, StageTranscribe, "read artifact", "", err)
	}
	var transcript Transcript
	if err := json.Unmarshal(payload, &transcript); err != nil {
		return Transcript{}, services.Wrap(services.ErrValidation, StageTranscribe, "parse artifact", "", err)
	}
	return transcript, nil
}
