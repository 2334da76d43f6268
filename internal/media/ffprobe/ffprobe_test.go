package ffprobe

import "testing"

const samplePayload = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2, "tags": {"language": "jpn"}},
    {"index": 2, "codec_name": "ac3", "codec_type": "audio", "sample_rate": "48000", "channels": 6}
  ],
  "format": {"filename": "input.mkv", "nb_streams": 3, "duration": "5400.25", "size": "734003200", "bit_rate": "1087000", "format_name": "matroska,webm"}
}`

func TestParseAndAccessors(t *testing.T) {
	result, err := Parse([]byte(samplePayload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := result.AudioStreamCount(); got != 2 {
		t.Fatalf("AudioStreamCount = %d, want 2", got)
	}
	primary, ok := result.PrimaryAudioStream()
	if !ok {
		t.Fatal("expected a primary audio stream")
	}
	if primary.Tags.Language != "jpn" {
		t.Fatalf("primary language = %q, want jpn", primary.Tags.Language)
	}
	if got := result.DurationSeconds(); got != 5400.25 {
		t.Fatalf("DurationSeconds = %v", got)
	}
	if got := result.SizeBytes(); got != 734003200 {
		t.Fatalf("SizeBytes = %d", got)
	}
}

func TestParseFloatHandlesGarbage(t *testing.T) {
	result := Result{Format: Format{Duration: "not-a-number"}}
	if got := result.DurationSeconds(); got != 0 {
		t.Fatalf("DurationSeconds on garbage = %v, want 0", got)
	}
}
