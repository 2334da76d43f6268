package terms

import (
	"math/bits"
	"strings"
	"unicode"

	"github.com/go-dedup/simhash"
)

// nearDuplicateDistance is the maximum Hamming distance at which two term
// fingerprints are collapsed into one entry. Character bigram features keep
// the fingerprint usable for both latin and CJK text.
const nearDuplicateDistance = 12

type termFeatureSet struct {
	text string
}

func (t termFeatureSet) GetFeatures() []simhash.Feature {
	text := strings.TrimSpace(t.text)
	if text == "" {
		return []simhash.Feature{}
	}

	runes := []rune(text)
	features := make([]simhash.Feature, 0, len(runes))
	for i := 0; i < len(runes)-1; i++ {
		r1, r2 := runes[i], runes[i+1]
		if isIgnorable(r1) || isIgnorable(r2) {
			continue
		}
		bigram := string([]rune{r1, r2})
		features = append(features, simhash.NewFeature([]byte(bigram)))
	}
	// Short terms need single-rune features for any distinguishing power.
	if len(runes) < 4 {
		for _, r := range runes {
			if !isIgnorable(r) {
				features = append(features, simhash.NewFeature([]byte(string(r))))
			}
		}
	}
	return features
}

func isIgnorable(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

func fingerprint(term string) uint64 {
	sh := simhash.NewSimhash()
	return sh.GetSimhash(termFeatureSet{text: normalizeTerm(term)})
}

func hammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func nearDuplicate(a, b uint64) bool {
	return hammingDistance(a, b) <= nearDuplicateDistance
}
