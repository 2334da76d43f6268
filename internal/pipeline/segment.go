package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"

	"subforge/internal/config"
	"subforge/internal/fileutil"
	"subforge/internal/logging"
	"subforge/internal/media/ffprobe"
	"subforge/internal/services"
	"subforge/internal/stage"
)

// Segmenter splits the extracted audio into speech windows. It leans on
// ffmpeg silencedetect: silence gaps bound the speech regions, and anything
// longer than the configured chunk length is cut down so the transcriber
// never sees an unbounded window.
type Segmenter struct {
	cfg    *config.Config
	logger *slog.Logger
	run    commandRunner
	probe  func(ctx context.Context, source string) (ffprobe.Result, error)
}

// NewSegmenter constructs the segmentation handler.
func NewSegmenter(cfg *config.Config, logger *slog.Logger) *Segmenter {
	s := &Segmenter{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "segment"),
		run:    runCommand,
	}
	s.probe = func(ctx context.Context, source string) (ffprobe.Result, error) {
		return ffprobe.Inspect(ctx, cfg.FFprobeBinary(), source)
	}
	return s
}

// WithRunner overrides the command runner (tests).
func (s *Segmenter) WithRunner(run commandRunner) *Segmenter {
	s.run = run
	return s
}

// WithProber overrides the media prober (tests).
func (s *Segmenter) WithProber(probe func(ctx context.Context, source string) (ffprobe.Result, error)) *Segmenter {
	s.probe = probe
	return s
}

// Silence gaps shorter than this stay inside a segment; subtitle timing
// tolerates brief pauses and over-splitting hurts transcription context.
const minSilenceSeconds = 0.6

var (
	silenceStartPattern = regexp.MustCompile(`silence_start:\s*(-?\d+(?:\.\d+)?)`)
	silenceEndPattern   = regexp.MustCompile(`silence_end:\s*(-?\d+(?:\.\d+)?)`)
)

func (s *Segmenter) Execute(ctx context.Context, job *stage.Job) error {
	audioPath := filepath.Join(job.Dir, ArtifactAudio)

	probe, err := s.probe(ctx, audioPath)
	if err != nil {
		return services.Wrap(services.ErrStageFailure, StageSegment, "ffprobe", "probe extracted audio", err)
	}
	duration := probe.DurationSeconds()
	if duration <= 0 {
		return services.Wrap(services.ErrValidation, StageSegment, "ffprobe", "extracted audio has no duration", nil)
	}

	args := []string{
		"-v", "info",
		"-i", audioPath,
		"-af", "silencedetect=noise=-35dB:d=" + strconv.FormatFloat(minSilenceSeconds, 'f', 1, 64),
		"-f", "null", "-",
	}
	output, err := s.run(ctx, s.cfg.FFmpegBinary(), args...)
	if err != nil {
		return services.Wrap(services.ErrStageFailure, StageSegment, "ffmpeg", "silence detection failed", err)
	}

	chunk := float64(job.Params.ChunkSeconds)
	segments := buildSegments(parseSilences(output), duration, chunk)
	list := SegmentList{Source: ArtifactAudio, Segments: segments}

	payload, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrStageFailure, StageSegment, "encode", "", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(job.Dir, ArtifactSegments), payload, 0o644); err != nil {
		return services.Wrap(services.ErrStageFailure, StageSegment, "write artifact", "", err)
	}

	logging.WithContext(ctx, s.logger).Info("segmented audio",
		logging.Int("segments", len(segments)),
		logging.Float64("duration_seconds", duration))
	return nil
}

type silence struct {
	start float64
	end   float64
}

// parseSilences pairs silence_start/silence_end readings from silencedetect
// output. A trailing start without an end means silence runs to the stream
// end; the pairing loop tolerates that by leaving it open.
func parseSilences(output []byte) []silence {
	starts := silenceStartPattern.FindAllSubmatch(output, -1)
	ends := silenceEndPattern.FindAllSubmatch(output, -1)

	var silences []silence
	for i, match := range starts {
		s := silence{start: parseSeconds(match[1]), end: -1}
		if i < len(ends) {
			s.end = parseSeconds(ends[i][1])
		}
		silences = append(silences, s)
	}
	return silences
}

func parseSeconds(raw []byte) float64 {
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

// buildSegments converts silence gaps into speech windows and caps each
// window at the chunk length. The whole stream is one segment when no
// silence was detected.
func buildSegments(silences []silence, duration, chunkSeconds float64) []Segment {
	if chunkSeconds <= 0 {
		chunkSeconds = 30
	}

	var speech []Segment
	cursor := 0.0
	for _, gap := range silences {
		if gap.start > cursor {
			speech = append(speech, Segment{Start: cursor, End: gap.start})
		}
		if gap.end < 0 {
			cursor = duration
			break
		}
		if gap.end > cursor {
			cursor = gap.end
		}
	}
	if cursor < duration {
		speech = append(speech, Segment{Start: cursor, End: duration})
	}

	var chunked []Segment
	for _, seg := range speech {
		for start := seg.Start; start < seg.End; start += chunkSeconds {
			end := start + chunkSeconds
			if end > seg.End {
				end = seg.End
			}
			chunked = append(chunked, Segment{Start: start, End: end})
		}
	}
	return chunked
}
