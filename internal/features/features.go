package features

import (
	"math"
	"strings"

	"golang.org/x/text/language"
)

// Vector summarizes a media input for approximate matching. Values are
// deterministic for identical probe/analysis output so vectors stay
// comparable across runs.
type Vector struct {
	DurationSeconds float64 `json:"duration_seconds"`
	NoiseLevel      float64 `json:"noise_level"` // [0,1]; 0 = clean program audio
	Language        string  `json:"language"`    // canonical base tag, "und" when unknown
	SpeakerCount    int     `json:"speaker_count"`
	Complexity      float64 `json:"complexity"` // [0,1]; coarse density of speech activity
}

// IsZero reports whether the vector carries no signal.
func (v Vector) IsZero() bool {
	return v.DurationSeconds == 0 && v.NoiseLevel == 0 && v.Language == "" && v.SpeakerCount == 0 && v.Complexity == 0
}

// CanonicalLanguage normalizes a detected-language string ("jpn", "ja-JP",
// "Japanese" tag soup) to its base tag; unknown input maps to "und".
func CanonicalLanguage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "auto") {
		return "und"
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "und"
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "und"
	}
	return base.String()
}

// Component weights for similarity scoring. Duration and language dominate:
// a match with the wrong language or a wildly different runtime is useless
// for parameter reuse no matter how close the rest looks.
const (
	weightDuration   = 0.35
	weightLanguage   = 0.25
	weightNoise      = 0.15
	weightSpeakers   = 0.15
	weightComplexity = 0.10
)

// Similarity scores two vectors in [0,1]. 1.0 means indistinguishable for
// parameter-reuse purposes.
func Similarity(a, b Vector) float64 {
	score := weightDuration * ratioCloseness(a.DurationSeconds, b.DurationSeconds)
	if CanonicalLanguage(a.Language) != "und" && CanonicalLanguage(a.Language) == CanonicalLanguage(b.Language) {
		score += weightLanguage
	}
	score += weightNoise * (1 - clamp01(math.Abs(a.NoiseLevel-b.NoiseLevel)))
	score += weightSpeakers * ratioCloseness(float64(a.SpeakerCount), float64(b.SpeakerCount))
	score += weightComplexity * (1 - clamp01(math.Abs(a.Complexity-b.Complexity)))
	return clamp01(score)
}

func ratioCloseness(a, b float64) float64 {
	if a <= 0 && b <= 0 {
		return 1
	}
	max := math.Max(a, b)
	if max <= 0 {
		return 0
	}
	return clamp01(1 - math.Abs(a-b)/max)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
