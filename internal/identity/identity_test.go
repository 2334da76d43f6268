package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"subforge/internal/config"
	"subforge/internal/media/ffprobe"
	"subforge/internal/services"
)

func fakeProbe(duration float64, audioStreams int) func(context.Context, string) (ffprobe.Result, error) {
	return func(context.Context, string) (ffprobe.Result, error) {
		result := ffprobe.Result{
			Format: ffprobe.Format{Duration: fmt.Sprintf("%f", duration)},
		}
		for i := 0; i < audioStreams; i++ {
			result.Streams = append(result.Streams, ffprobe.Stream{Index: i, CodecType: "audio"})
		}
		return result, nil
	}
}

// contentDecoder simulates decoding: the payload depends only on the logical
// content name and offset, never on the file path, mimicking two container
// wrappings of identical audio.
func contentDecoder(content string) func(context.Context, string, float64, float64) ([]byte, error) {
	return func(_ context.Context, _ string, offset, _ float64) ([]byte, error) {
		return bytes.Repeat([]byte(fmt.Sprintf("%s@%.3f|", content, offset)), 1024), nil
	}
}

func TestComputeStableAcrossContainers(t *testing.T) {
	svc1 := NewService("", "").WithProber(fakeProbe(3600, 1)).WithDecoder(contentDecoder("episode-1"))
	svc2 := NewService("", "").WithProber(fakeProbe(3600, 1)).WithDecoder(contentDecoder("episode-1"))

	first, err := svc1.Compute(context.Background(), "/media/episode.mkv")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	second, err := svc2.Compute(context.Background(), "/downloads/renamed.mp4")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if first != second {
		t.Fatalf("identity differs across wrappings: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("identity length = %d, want 64 hex chars", len(first))
	}
}

func TestComputeDiffersForDifferentContent(t *testing.T) {
	svc := NewService("", "").WithProber(fakeProbe(3600, 1))

	a, err := svc.WithDecoder(contentDecoder("content-a")).Compute(context.Background(), "/a.mkv")
	if err != nil {
		t.Fatalf("Compute a: %v", err)
	}
	b, err := svc.WithDecoder(contentDecoder("content-b")).Compute(context.Background(), "/b.mkv")
	if err != nil {
		t.Fatalf("Compute b: %v", err)
	}
	if a == b {
		t.Fatal("different content produced identical identity")
	}
}

func TestComputeFailsWithoutAudio(t *testing.T) {
	svc := NewService("", "").WithProber(fakeProbe(3600, 0)).WithDecoder(contentDecoder("x"))
	_, err := svc.Compute(context.Background(), "/video-only.mkv")
	if !errors.Is(err, services.ErrMediaUnreadable) {
		t.Fatalf("expected ErrMediaUnreadable, got %v", err)
	}
}

func TestComputeFailsOnDecodeError(t *testing.T) {
	svc := NewService("", "").WithProber(fakeProbe(3600, 1)).
		WithDecoder(func(context.Context, string, float64, float64) ([]byte, error) {
			return nil, errors.New("decoder exploded")
		})
	_, err := svc.Compute(context.Background(), "/broken.mkv")
	if !errors.Is(err, services.ErrMediaUnreadable) {
		t.Fatalf("expected ErrMediaUnreadable, got %v", err)
	}
}

func TestComputeRejectsEmptySamples(t *testing.T) {
	svc := NewService("", "").WithProber(fakeProbe(3600, 1)).
		WithDecoder(func(context.Context, string, float64, float64) ([]byte, error) {
			return []byte{0, 0}, nil
		})
	_, err := svc.Compute(context.Background(), "/silent.mkv")
	if !errors.Is(err, services.ErrMediaUnreadable) {
		t.Fatalf("expected ErrMediaUnreadable for undersized sample, got %v", err)
	}
}

func TestSampleOffsets(t *testing.T) {
	if got := sampleOffsets(5); len(got) != 1 || got[0] != 0 {
		t.Fatalf("short input offsets = %v", got)
	}
	offsets := sampleOffsets(3600)
	if len(offsets) != 3 {
		t.Fatalf("expected 3 offsets, got %v", offsets)
	}
	if offsets[0] != 0 || offsets[1] >= offsets[2] {
		t.Fatalf("offsets not ordered: %v", offsets)
	}
}

func TestConfigFingerprintTracksBaselineSettingsOnly(t *testing.T) {
	cfg := config.Default()
	base := ConfigFingerprint(&cfg)

	changed := cfg
	changed.Pipeline.TargetLanguage = "de"
	if got := ConfigFingerprint(&changed); got != base {
		t.Fatal("target language must not affect the config fingerprint")
	}

	changed = cfg
	changed.Pipeline.TranscribeModel = "large-v3"
	if got := ConfigFingerprint(&changed); got == base {
		t.Fatal("transcribe model change must alter the config fingerprint")
	}
}
