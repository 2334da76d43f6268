package terms

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type glossaryEntry struct {
	Term        string `toml:"term"`
	Translation string `toml:"translation"`
	Category    string `toml:"category"`
}

type glossaryFile struct {
	Terms []glossaryEntry `toml:"term"`
}

// LoadGlossary reads the operator-maintained glossary. Entries are fully
// trusted: they carry maximum confidence and win every merge conflict with
// learned terms. A missing file is an empty glossary.
func LoadGlossary(path string) ([]Term, error) {
	if path == "" {
		return nil, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read glossary: %w", err)
	}

	var parsed glossaryFile
	if err := toml.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse glossary: %w", err)
	}

	var manual []Term
	for _, entry := range parsed.Terms {
		text := normalizeTerm(entry.Term)
		if text == "" {
			continue
		}
		category := Category(entry.Category)
		if !ValidCategory(category) {
			category = CategoryPhrase
		}
		manual = append(manual, Term{
			Term:        entry.Term,
			Translation: entry.Translation,
			Category:    category,
			Confidence:  1.0,
			Occurrences: 1,
			Manual:      true,
		})
	}
	return manual, nil
}
