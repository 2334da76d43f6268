package terms

import (
	"strings"
	"time"
)

// Category classifies a learned term.
type Category string

const (
	CategoryName     Category = "name"
	CategoryCultural Category = "cultural"
	CategoryPhrase   Category = "phrase"
)

// ValidCategory reports whether the value is a known category.
func ValidCategory(category Category) bool {
	switch category {
	case CategoryName, CategoryCultural, CategoryPhrase:
		return true
	}
	return false
}

// Term is a piece of recurring context the pipeline has learned: a proper
// name, a cultural reference, or a phrase that should translate
// consistently. Confidence only rises through corroboration from distinct
// sources; a single job can never mint a high-confidence term.
type Term struct {
	Term        string    `json:"term"`
	Translation string    `json:"translation,omitempty"`
	Category    Category  `json:"category"`
	Confidence  float64   `json:"confidence"`
	Occurrences int       `json:"occurrences"`
	Sources     []string  `json:"sources"`
	Manual      bool      `json:"manual,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Candidate is a term proposal extracted from one job's validated output.
type Candidate struct {
	Term        string
	Translation string
	Category    Category
	Source      string
}

func normalizeTerm(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

func hasSource(t Term, source string) bool {
	for _, s := range t.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Merge combines manual glossary terms with learned ones. When both carry
// the same normalized text the manual entry wins.
func Merge(manual, learned []Term) []Term {
	seen := make(map[string]struct{}, len(manual))
	merged := make([]Term, 0, len(manual)+len(learned))
	for _, t := range manual {
		key := normalizeTerm(t.Term)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, t)
	}
	for _, t := range learned {
		key := normalizeTerm(t.Term)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, t)
	}
	return merged
}
