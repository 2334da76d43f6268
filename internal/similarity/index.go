package similarity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"subforge/internal/config"
	"subforge/internal/features"
	"subforge/internal/fileutil"
	"subforge/internal/logging"
	"subforge/internal/stage"
)

const indexFileName = "similarity.jsonl"

// Outcome captures how a completed job turned out so future matches can
// judge whether the recorded parameters are worth reusing.
type Outcome struct {
	Quality float64 `json:"quality"`
	Seconds float64 `json:"seconds"`
}

// Record is one completed job in the index.
type Record struct {
	MediaID   string          `json:"media_id"`
	Features  features.Vector `json:"features"`
	Params    stage.Params    `json:"params"`
	Outcome   Outcome         `json:"outcome"`
	CreatedAt time.Time       `json:"created_at"`
}

// Match pairs a record with its similarity score against a query vector.
type Match struct {
	Record        Record
	Score         float64
	NearDuplicate bool
}

// Index stores feature vectors of completed jobs and answers approximate
// match queries. Records live in a JSONL file under the data directory; the
// file is append-mostly and rewritten only when pruning.
type Index struct {
	path       string
	threshold  float64
	nearDup    float64
	maxRecords int
	logger     *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewIndex builds the similarity index from configuration. Returns nil when
// the feature is disabled; all methods tolerate a nil receiver.
func NewIndex(cfg *config.Config, logger *slog.Logger) *Index {
	if cfg == nil || !cfg.Similarity.Enabled {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Index{
		path:       filepath.Join(cfg.Paths.DataDir, indexFileName),
		threshold:  cfg.Similarity.Threshold,
		nearDup:    cfg.Similarity.NearDuplicateThreshold,
		maxRecords: cfg.Similarity.MaxRecords,
		logger:     logging.NewComponentLogger(logger, "similarity"),
		now:        time.Now,
	}
}

// Enabled reports whether the index is active.
func (i *Index) Enabled() bool {
	return i != nil
}

// Append records a completed job. Records with an empty feature vector carry
// no matching signal and are dropped.
func (i *Index) Append(record Record) error {
	if i == nil {
		return nil
	}
	if record.Features.IsZero() {
		return nil
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = i.now().UTC()
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	f, err := os.OpenFile(i.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	_, writeErr := f.Write(append(line, '\n'))
	closeErr := f.Close()
	if writeErr != nil {
		return fmt.Errorf("append record: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close index: %w", closeErr)
	}
	return i.pruneLocked()
}

// Records returns every stored record, oldest first. A missing index file is
// an empty index.
func (i *Index) Records() ([]Record, error) {
	if i == nil {
		return nil, nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.loadLocked()
}

// FindSimilar returns the best match at or above the configured threshold,
// or nil when nothing qualifies.
func (i *Index) FindSimilar(vector features.Vector) (*Match, error) {
	matches, err := i.Matches(vector)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	best := matches[0]
	return &best, nil
}

// Matches returns every record scoring at or above the threshold, best
// first. A score exactly at the threshold qualifies.
func (i *Index) Matches(vector features.Vector) ([]Match, error) {
	if i == nil || vector.IsZero() {
		return nil, nil
	}
	records, err := i.Records()
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, record := range records {
		score := features.Similarity(vector, record.Features)
		if score < i.threshold {
			continue
		}
		matches = append(matches, Match{
			Record:        record,
			Score:         score,
			NearDuplicate: score >= i.nearDup,
		})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return matches[a].Record.CreatedAt.After(matches[b].Record.CreatedAt)
	})
	return matches, nil
}

// Clear removes every stored record.
func (i *Index) Clear() error {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := os.Remove(i.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}

func (i *Index) loadLocked() ([]Record, error) {
	payload, err := os.ReadFile(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}

	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			// A torn line means a crashed writer; skip it rather than
			// poisoning every future lookup.
			i.logger.Warn("skipping unreadable index line", logging.Error(err))
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}
	return records, nil
}

// pruneLocked drops the oldest records once the index exceeds its cap.
func (i *Index) pruneLocked() error {
	if i.maxRecords <= 0 {
		return nil
	}
	records, err := i.loadLocked()
	if err != nil {
		return err
	}
	if len(records) <= i.maxRecords {
		return nil
	}

	sort.SliceStable(records, func(a, b int) bool {
		return records[a].CreatedAt.Before(records[b].CreatedAt)
	})
	keep := records[len(records)-i.maxRecords:]

	var buf bytes.Buffer
	for _, record := range keep {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := fileutil.WriteFileAtomic(i.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("rewrite index: %w", err)
	}
	i.logger.Debug("pruned similarity index",
		logging.Int("dropped", len(records)-len(keep)),
		logging.Int("kept", len(keep)))
	return nil
}
