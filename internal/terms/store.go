package terms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"subforge/internal/config"
	"subforge/internal/fileutil"
	"subforge/internal/logging"
)

const storeFileName = "terms.json"

// Confidence schedule. A term enters at the base and gains a step for every
// additional distinct source that corroborates it, capped below certainty.
const (
	confidenceBase = 0.40
	confidenceStep = 0.15
	confidenceCap  = 0.95
)

// Store persists learned terminology in the data directory. Confidence is a
// function of distinct corroborating sources, so replaying the same job
// never inflates a term.
type Store struct {
	path           string
	minConfidence  float64
	minOccurrences int
	logger         *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewStore builds the terminology store from configuration. Returns nil when
// the feature is disabled; all methods tolerate a nil receiver.
func NewStore(cfg *config.Config, logger *slog.Logger) *Store {
	if cfg == nil || !cfg.Terms.Enabled {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		path:           filepath.Join(cfg.Paths.DataDir, storeFileName),
		minConfidence:  cfg.Terms.MinConfidence,
		minOccurrences: cfg.Terms.MinOccurrences,
		logger:         logging.NewComponentLogger(logger, "terms"),
		now:            time.Now,
	}
}

// Enabled reports whether the store is active.
func (s *Store) Enabled() bool {
	return s != nil
}

// Ingest folds candidate terms from one job's validated output into the
// store. Near-duplicate candidates collapse into the existing entry; the
// first recorded spelling wins. Corroboration from a new source raises
// confidence, repeat sightings from the same source only bump occurrences.
func (s *Store) Ingest(ctx context.Context, candidates []Candidate) error {
	if s == nil || len(candidates) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.loadLocked()
	if err != nil {
		return err
	}

	prints := make([]uint64, len(stored))
	for i, t := range stored {
		prints[i] = fingerprint(t.Term)
	}

	ingested := 0
	for _, candidate := range candidates {
		text := normalizeTerm(candidate.Term)
		if text == "" {
			continue
		}
		category := candidate.Category
		if !ValidCategory(category) {
			category = CategoryPhrase
		}

		fp := fingerprint(candidate.Term)
		matched := -1
		for i := range stored {
			if nearDuplicate(fp, prints[i]) {
				matched = i
				break
			}
		}

		if matched < 0 {
			term := Term{
				Term:        candidate.Term,
				Translation: candidate.Translation,
				Category:    category,
				Confidence:  confidenceBase,
				Occurrences: 1,
				UpdatedAt:   s.now().UTC(),
			}
			if candidate.Source != "" {
				term.Sources = []string{candidate.Source}
			}
			stored = append(stored, term)
			prints = append(prints, fp)
			ingested++
			continue
		}

		term := &stored[matched]
		term.Occurrences++
		term.UpdatedAt = s.now().UTC()
		if term.Translation == "" && candidate.Translation != "" {
			term.Translation = candidate.Translation
		}
		if candidate.Source != "" && !hasSource(*term, candidate.Source) {
			term.Sources = append(term.Sources, candidate.Source)
			term.Confidence = confidenceFor(len(term.Sources))
		}
		ingested++
	}

	if ingested == 0 {
		return nil
	}
	if err := s.saveLocked(stored); err != nil {
		return err
	}
	s.logger.Debug("ingested terminology candidates",
		logging.Int("candidates", len(candidates)),
		logging.Int("stored", len(stored)))
	return nil
}

// Query returns the terms trusted enough to feed into translation context:
// confidence at or above the configured minimum and enough occurrences.
func (s *Store) Query() ([]Term, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	var trusted []Term
	for _, term := range stored {
		if term.Confidence < s.minConfidence {
			continue
		}
		if term.Occurrences < s.minOccurrences {
			continue
		}
		trusted = append(trusted, term)
	}
	sort.SliceStable(trusted, func(a, b int) bool {
		if trusted[a].Confidence != trusted[b].Confidence {
			return trusted[a].Confidence > trusted[b].Confidence
		}
		return trusted[a].Term < trusted[b].Term
	})
	return trusted, nil
}

// All returns every stored term regardless of confidence, for operator
// inspection.
func (s *Store) All() ([]Term, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Clear removes every learned term.
func (s *Store) Clear() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear terms: %w", err)
	}
	return nil
}

func confidenceFor(distinctSources int) float64 {
	if distinctSources < 1 {
		return confidenceBase
	}
	confidence := confidenceBase + confidenceStep*float64(distinctSources-1)
	if confidence > confidenceCap {
		return confidenceCap
	}
	return confidence
}

func (s *Store) loadLocked() ([]Term, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read terms: %w", err)
	}
	var stored []Term
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("decode terms: %w", err)
	}
	return stored, nil
}

func (s *Store) saveLocked(stored []Term) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	payload, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("encode terms: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, payload, 0o644); err != nil {
		return fmt.Errorf("write terms: %w", err)
	}
	return nil
}
