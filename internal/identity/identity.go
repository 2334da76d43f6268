package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"subforge/internal/media/ffprobe"
	"subforge/internal/services"
)

const (
	// sampleWindowSeconds is the length of each decoded audio window.
	sampleWindowSeconds = 10.0
	// sampleRate and channel/bit-depth normalization make the digest
	// independent of the container's native audio format.
	sampleRate = 16000
	// minSampleBytes guards against ffmpeg "succeeding" with an empty stream.
	minSampleBytes = sampleRate / 4 // 125 ms of s16le mono
)

// Identity is a content-derived, container-independent media fingerprint.
type Identity string

// Short returns a truncated form for logs and directory names.
func (id Identity) Short() string {
	s := string(id)
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

func (id Identity) String() string { return string(id) }

// Service computes media identities by sampling decoded audio.
type Service struct {
	ffmpegBinary  string
	ffprobeBinary string

	// decode is swappable in tests; the default shells out to ffmpeg.
	decode func(ctx context.Context, source string, offset, window float64) ([]byte, error)
	probe  func(ctx context.Context, source string) (ffprobe.Result, error)
}

// NewService builds an identity service using the supplied binaries (empty
// values resolve from PATH).
func NewService(ffmpegBinary, ffprobeBinary string) *Service {
	s := &Service{
		ffmpegBinary:  strings.TrimSpace(ffmpegBinary),
		ffprobeBinary: strings.TrimSpace(ffprobeBinary),
	}
	if s.ffmpegBinary == "" {
		s.ffmpegBinary = "ffmpeg"
	}
	if s.ffprobeBinary == "" {
		s.ffprobeBinary = "ffprobe"
	}
	s.decode = s.decodeWindow
	s.probe = func(ctx context.Context, source string) (ffprobe.Result, error) {
		return ffprobe.Inspect(ctx, s.ffprobeBinary, source)
	}
	return s
}

// WithDecoder overrides the audio window decoder (tests).
func (s *Service) WithDecoder(decode func(ctx context.Context, source string, offset, window float64) ([]byte, error)) *Service {
	s.decode = decode
	return s
}

// WithProber overrides the media prober (tests).
func (s *Service) WithProber(probe func(ctx context.Context, source string) (ffprobe.Result, error)) *Service {
	s.probe = probe
	return s
}

// Compute derives the media identity for source. Windows of normalized audio
// are decoded at fixed offsets (start, middle, end), hashed independently,
// and the per-window digests are hashed together into the final identity.
// Multiple windows guard against collisions from silent leaders or trailers.
func (s *Service) Compute(ctx context.Context, source string) (Identity, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", services.Wrap(services.ErrMediaUnreadable, "identity", "compute", "empty source path", nil)
	}

	probe, err := s.probe(ctx, source)
	if err != nil {
		return "", services.Wrap(services.ErrMediaUnreadable, "identity", "probe", "", err)
	}
	if probe.AudioStreamCount() == 0 {
		return "", services.Wrap(services.ErrMediaUnreadable, "identity", "probe", "no audio streams", nil)
	}

	duration := probe.DurationSeconds()
	offsets := sampleOffsets(duration)

	combined := sha256.New()
	fmt.Fprintf(combined, "subforge-media-id/v1/%d/%d\n", sampleRate, len(offsets))
	for _, offset := range offsets {
		payload, err := s.decode(ctx, source, offset, sampleWindowSeconds)
		if err != nil {
			return "", services.Wrap(services.ErrMediaUnreadable, "identity", "decode sample", fmt.Sprintf("offset %.1fs", offset), err)
		}
		if len(payload) < minSampleBytes {
			return "", services.Wrap(services.ErrMediaUnreadable, "identity", "decode sample", fmt.Sprintf("offset %.1fs produced %d bytes", offset, len(payload)), nil)
		}
		digest := sha256.Sum256(payload)
		combined.Write(digest[:])
	}

	return Identity(hex.EncodeToString(combined.Sum(nil))), nil
}

// sampleOffsets picks window start positions for a given duration. Short
// inputs collapse to fewer windows; the end window backs off a small tail
// margin so trailing container padding never shifts it.
func sampleOffsets(duration float64) []float64 {
	const tailMargin = 2.0
	if duration <= sampleWindowSeconds {
		return []float64{0}
	}
	middle := duration/2 - sampleWindowSeconds/2
	end := duration - sampleWindowSeconds - tailMargin
	if end <= middle {
		return []float64{0, middle}
	}
	return []float64{0, middle, end}
}

func (s *Service) decodeWindow(ctx context.Context, source string, offset, window float64) ([]byte, error) {
	args := []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-t", strconv.FormatFloat(window, 'f', 3, 64),
		"-i", source,
		"-map", "0:a:0",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, s.ffmpegBinary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", s.ffmpegBinary, err, strings.TrimSpace(stderr.String()))
	}
	return output, nil
}
