package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"

	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/services"
	"subforge/internal/stage"
)

// Extractor produces the normalized transcription audio track: mono 16 kHz
// PCM, the format every downstream consumer assumes.
type Extractor struct {
	cfg    *config.Config
	logger *slog.Logger
	run    commandRunner
}

// NewExtractor constructs the extraction handler.
func NewExtractor(cfg *config.Config, logger *slog.Logger) *Extractor {
	return &Extractor{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "extract"),
		run:    runCommand,
	}
}

// WithRunner overrides the command runner (tests).
func (e *Extractor) WithRunner(run commandRunner) *Extractor {
	e.run = run
	return e
}

func (e *Extractor) Execute(ctx context.Context, job *stage.Job) error {
	target := filepath.Join(job.Dir, ArtifactAudio)
	args := []string{
		"-y",
		"-i", job.SourcePath,
		"-vn",
		"-map", "0:a:0",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		target,
	}
	logging.WithContext(ctx, e.logger).Info("extracting audio",
		logging.String("source", job.SourcePath))
	if _, err := e.run(ctx, e.cfg.FFmpegBinary(), args...); err != nil {
		return services.Wrap(services.ErrStageFailure, StageExtract, "ffmpeg", "audio extraction failed", err)
	}
	return nil
}
