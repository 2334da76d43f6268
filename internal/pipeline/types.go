package pipeline

// Artifact file names inside a job directory. Stage handlers produce and
// consume these; the baseline cache stores them under the same names so a
// restored hit is indistinguishable from a fresh run.
const (
	ArtifactAudio       = "audio.wav"
	ArtifactSegments    = "segments.json"
	ArtifactTranscript  = "transcript.json"
	ArtifactTranslation = "translation.json"
	ArtifactSubtitles   = "subtitles.srt"
	ArtifactOutput      = "output.mkv"
)

// Segment is one half-open speech window in seconds from stream start.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SegmentList is the segmentation stage's artifact.
type SegmentList struct {
	Source   string    `json:"source"`
	Segments []Segment `json:"segments"`
}

// Line is one timed piece of text in a transcript or translation.
type Line struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the transcription stage's artifact. Language is the detected
// (or confirmed) source language as reported by the transcriber.
type Transcript struct {
	Language string `json:"language"`
	Model    string `json:"model,omitempty"`
	Lines    []Line `json:"lines"`
}

// Translation is the translation stage's artifact.
type Translation struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Lines          []Line `json:"lines"`
}
