package pipeline

import (
	"strings"
	"unicode"

	"subforge/internal/terms"
)

// minCandidateSightings is how often a phrase must appear mid-sentence
// within one job before it becomes a terminology candidate. Sentence-initial
// capitals are ignored entirely; they are capitalization, not names.
const minCandidateSightings = 2

// ExtractCandidates mines a transcript's lines for proper-name candidates to
// feed the terminology store. The heuristic is deliberately conservative:
// only mid-sentence runs of capitalized words count, and a phrase must recur
// within the job to qualify. Cross-job corroboration is the terms store's
// concern.
func ExtractCandidates(transcript Transcript, source string) []terms.Candidate {
	counts := make(map[string]int)
	order := make([]string, 0)

	for _, line := range transcript.Lines {
		tokens := strings.Fields(line.Text)
		run := make([]string, 0, 4)
		flush := func() {
			if len(run) == 0 {
				return
			}
			phrase := strings.Join(run, " ")
			if counts[phrase] == 0 {
				order = append(order, phrase)
			}
			counts[phrase]++
			run = run[:0]
		}
		for i, token := range tokens {
			word := strings.Trim(token, ".,!?;:\"'()[]")
			if i > 0 && isCapitalizedWord(word) {
				run = append(run, word)
				continue
			}
			flush()
		}
		flush()
	}

	var candidates []terms.Candidate
	for _, phrase := range order {
		if counts[phrase] < minCandidateSightings {
			continue
		}
		candidates = append(candidates, terms.Candidate{
			Term:     phrase,
			Category: terms.CategoryName,
			Source:   source,
		})
	}
	return candidates
}

func isCapitalizedWord(word string) bool {
	runes := []rune(word)
	if len(runes) < 3 {
		return false
	}
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLower(r) {
			return false
		}
	}
	return true
}
