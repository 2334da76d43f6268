package features

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"subforge/internal/media/ffprobe"
)

// Extractor derives feature vectors from probed media. The ffmpeg
// volumedetect pass estimates noise; everything else comes from container
// metadata so extraction stays cheap.
type Extractor struct {
	ffmpegBinary string

	measure func(ctx context.Context, source string) (meanVolumeDB float64, err error)
}

// NewExtractor builds an extractor using the supplied ffmpeg binary (empty
// resolves from PATH).
func NewExtractor(ffmpegBinary string) *Extractor {
	e := &Extractor{ffmpegBinary: strings.TrimSpace(ffmpegBinary)}
	if e.ffmpegBinary == "" {
		e.ffmpegBinary = "ffmpeg"
	}
	e.measure = e.measureMeanVolume
	return e
}

// WithMeasurer overrides the volume measurement (tests).
func (e *Extractor) WithMeasurer(measure func(ctx context.Context, source string) (float64, error)) *Extractor {
	e.measure = measure
	return e
}

// Extract builds the feature vector for a probed source. Measurement
// failures degrade to neutral values rather than failing the caller; the
// vector only steers optimization, never correctness.
func (e *Extractor) Extract(ctx context.Context, source string, probe ffprobe.Result) Vector {
	vector := Vector{
		DurationSeconds: probe.DurationSeconds(),
		Language:        "und",
		SpeakerCount:    1,
		NoiseLevel:      0.5,
	}
	if stream, ok := probe.PrimaryAudioStream(); ok {
		vector.Language = CanonicalLanguage(stream.Tags.Language)
		if stream.Channels > 2 {
			// Multichannel program audio usually means mixed dialogue beds.
			vector.SpeakerCount = 2
		}
	}
	vector.Complexity = complexityFromProbe(probe)

	if meanVolume, err := e.measure(ctx, source); err == nil {
		vector.NoiseLevel = noiseFromMeanVolume(meanVolume)
	}
	return vector
}

// EnrichFromTranscript refines a vector with facts only known after
// transcription: the detected language and a speaker estimate from segment
// alternation.
func EnrichFromTranscript(vector Vector, detectedLanguage string, speakerCount int) Vector {
	if lang := CanonicalLanguage(detectedLanguage); lang != "und" {
		vector.Language = lang
	}
	if speakerCount > 0 {
		vector.SpeakerCount = speakerCount
	}
	return vector
}

// complexityFromProbe maps container bitrate and stream count onto [0,1].
func complexityFromProbe(probe ffprobe.Result) float64 {
	const referenceBitRate = 8_000_000 // dense multi-stream remux territory
	score := float64(probe.BitRate()) / referenceBitRate
	score += 0.1 * float64(len(probe.Streams)-1)
	return clamp01(score)
}

// noiseFromMeanVolume maps a volumedetect mean_volume reading onto [0,1].
// Clean program audio sits near -30 dB; hot, noisy sources approach 0 dB.
func noiseFromMeanVolume(meanVolumeDB float64) float64 {
	const floor = -60.0
	if math.IsNaN(meanVolumeDB) {
		return 0.5
	}
	return clamp01(1 - (meanVolumeDB / floor))
}

var meanVolumePattern = regexp.MustCompile(`mean_volume:\s*(-?\d+(?:\.\d+)?)\s*dB`)

func (e *Extractor) measureMeanVolume(ctx context.Context, source string) (float64, error) {
	args := []string{
		"-v", "info",
		"-i", source,
		"-map", "0:a:0",
		"-af", "volumedetect",
		"-f", "null", "-",
	}
	cmd := exec.CommandContext(ctx, e.ffmpegBinary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("%s volumedetect: %w", e.ffmpegBinary, err)
	}
	match := meanVolumePattern.FindSubmatch(output)
	if match == nil {
		return 0, fmt.Errorf("volumedetect output missing mean_volume")
	}
	return strconv.ParseFloat(string(match[1]), 64)
}
