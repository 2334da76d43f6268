package optimizer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"subforge/internal/config"
	"subforge/internal/features"
	"subforge/internal/logging"
	"subforge/internal/stage"
)

const historyFileName = "optimizer.jsonl"

// Optimizer learns processing parameters from completed jobs. Observations
// append to a history file; every RetrainAfter observations the history is
// folded into a fresh immutable model snapshot. Predict never blocks on
// training: it reads whichever snapshot is current.
type Optimizer struct {
	path         string
	gate         float64
	retrainAfter int
	logger       *slog.Logger

	snapshot atomic.Pointer[model]

	mu           sync.Mutex
	sinceRetrain int
	training     atomic.Bool
}

// New builds the optimizer from configuration. Returns nil when the feature
// is disabled; all methods tolerate a nil receiver.
func New(cfg *config.Config, logger *slog.Logger) *Optimizer {
	if cfg == nil || !cfg.Optimizer.Enabled {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Optimizer{
		path:         filepath.Join(cfg.Paths.DataDir, historyFileName),
		gate:         cfg.Optimizer.ConfidenceThreshold,
		retrainAfter: cfg.Optimizer.RetrainAfter,
		logger:       logging.NewComponentLogger(logger, "optimizer"),
	}
	o.retrain()
	return o
}

// Enabled reports whether the optimizer is active.
func (o *Optimizer) Enabled() bool {
	return o != nil
}

// ConfidenceGate returns the minimum confidence a prediction needs before a
// caller may apply it.
func (o *Optimizer) ConfidenceGate() float64 {
	if o == nil {
		return 0
	}
	return o.gate
}

// Predict answers with learned parameters for the input. A missing model
// yields Basis "no_model" with zero confidence; callers compare Confidence
// against ConfidenceGate before applying anything.
func (o *Optimizer) Predict(vector features.Vector) Prediction {
	if o == nil {
		return Prediction{Basis: BasisNoModel}
	}
	return o.snapshot.Load().predict(vector)
}

// Usable reports whether a prediction clears the confidence gate. The gate
// is inclusive: a prediction exactly at the threshold applies.
func (o *Optimizer) Usable(p Prediction) bool {
	if o == nil {
		return false
	}
	return p.Basis == BasisModel && p.Confidence >= o.gate
}

// Observe records a completed job. Training happens only after enough new
// observations accumulate, and only one caller retrains at a time; others
// keep serving the previous snapshot.
func (o *Optimizer) Observe(vector features.Vector, params stage.Params, outcome Outcome) error {
	if o == nil || vector.IsZero() {
		return nil
	}

	obs := Observation{
		Features:  vector,
		Params:    params,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	if err := o.appendLocked(obs); err != nil {
		o.mu.Unlock()
		return err
	}
	o.sinceRetrain++
	due := o.sinceRetrain >= o.retrainAfter
	if due {
		o.sinceRetrain = 0
	}
	o.mu.Unlock()

	if due && o.training.CompareAndSwap(false, true) {
		defer o.training.Store(false)
		o.retrain()
	}
	return nil
}

// Retrain rebuilds the model snapshot from the full history immediately.
func (o *Optimizer) Retrain() {
	if o == nil {
		return
	}
	if o.training.CompareAndSwap(false, true) {
		defer o.training.Store(false)
		o.retrain()
	}
}

func (o *Optimizer) retrain() {
	observations, err := o.loadHistory()
	if err != nil {
		o.logger.Warn("optimizer history unreadable, keeping previous model", logging.Error(err))
		return
	}
	next := &model{observations: observations, trainedAt: time.Now().UTC()}
	o.snapshot.Store(next)
	o.logger.Debug("optimizer model refreshed", logging.Int("observations", len(observations)))
}

func (o *Optimizer) appendLocked(obs Observation) error {
	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	line, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	_, writeErr := f.Write(append(line, '\n'))
	closeErr := f.Close()
	if writeErr != nil {
		return fmt.Errorf("append observation: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close history: %w", closeErr)
	}
	return nil
}

func (o *Optimizer) loadHistory() ([]Observation, error) {
	payload, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}

	var observations []Observation
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var obs Observation
		if err := json.Unmarshal(line, &obs); err != nil {
			o.logger.Warn("skipping unreadable observation", logging.Error(err))
			continue
		}
		observations = append(observations, obs)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return observations, nil
}
