package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"subforge/internal/config"
	"subforge/internal/fileutil"
	"subforge/internal/logging"
	"subforge/internal/services"
	"subforge/internal/stage"
)

// Assembler renders the timed lines into an SRT subtitle file. It prefers
// the translation artifact and falls back to the raw transcript when the
// translation stage was skipped, so a degraded run still produces usable
// subtitles in the source language.
type Assembler struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewAssembler constructs the assembly handler.
func NewAssembler(cfg *config.Config, logger *slog.Logger) *Assembler {
	return &Assembler{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "assemble"),
	}
}

func (a *Assembler) Execute(ctx context.Context, job *stage.Job) error {
	logger := logging.WithContext(ctx, a.logger)

	var lines []Line
	if translation, err := ReadTranslation(job.Dir); err == nil && len(translation.Lines) > 0 {
		lines = translation.Lines
	} else {
		transcript, terr := ReadTranscript(job.Dir)
		if terr != nil {
			return services.Wrap(services.ErrValidation, StageAssemble, "load lines",
				"neither translation nor transcript readable", terr)
		}
		lines = transcript.Lines
		logger.Warn("assembling from untranslated transcript",
			logging.String(logging.FieldImpact, "subtitles in source language"))
	}
	if len(lines) == 0 {
		return services.Wrap(services.ErrValidation, StageAssemble, "load lines", "no subtitle lines", nil)
	}

	srt := renderSRT(lines)
	if err := fileutil.WriteFileAtomic(filepath.Join(job.Dir, ArtifactSubtitles), []byte(srt), 0o644); err != nil {
		return services.Wrap(services.ErrStageFailure, StageAssemble, "write artifact", "", err)
	}
	logger.Info("assembled subtitles", logging.Int("cues", len(lines)))
	return nil
}

// renderSRT produces standard SubRip text: 1-based cue index, a
// comma-decimal timestamp range, the cue text, and a blank separator.
func renderSRT(lines []Line) string {
	var b strings.Builder
	cue := 0
	for _, line := range lines {
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}
		cue++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			cue, srtTimestamp(line.Start), srtTimestamp(line.End), text)
	}
	return b.String()
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	millis := int64(math.Round(seconds * 1000))
	h := millis / 3600000
	m := millis % 3600000 / 60000
	s := millis % 60000 / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
