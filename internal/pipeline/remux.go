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

// Remuxer muxes the assembled subtitle track into a copy of the source
// container. Streams are copied, never re-encoded; the stage is cheap and
// its failure degrades to delivering the bare subtitle file.
type Remuxer struct {
	cfg    *config.Config
	logger *slog.Logger
	run    commandRunner
}

// NewRemuxer constructs the remux handler.
func NewRemuxer(cfg *config.Config, logger *slog.Logger) *Remuxer {
	return &Remuxer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "remux"),
		run:    runCommand,
	}
}

// WithRunner overrides the command runner (tests).
func (r *Remuxer) WithRunner(run commandRunner) *Remuxer {
	r.run = run
	return r
}

func (r *Remuxer) Execute(ctx context.Context, job *stage.Job) error {
	target := filepath.Join(job.Dir, ArtifactOutput)
	args := []string{
		"-y",
		"-i", job.SourcePath,
		"-i", filepath.Join(job.Dir, ArtifactSubtitles),
		"-map", "0",
		"-map", "1:0",
		"-c", "copy",
		"-c:s", "srt",
	}
	if lang := job.TargetLanguage; lang != "" {
		args = append(args, "-metadata:s:s:0", "language="+lang)
	}
	args = append(args, target)

	logging.WithContext(ctx, r.logger).Info("remuxing subtitles into container",
		logging.String("source", job.SourcePath))
	if _, err := r.run(ctx, r.cfg.FFmpegBinary(), args...); err != nil {
		return services.Wrap(services.ErrStageFailure, StageRemux, "ffmpeg", "remux failed", err)
	}
	return nil
}
