// Package optimizer predicts processing parameters from past job outcomes.
// It is deliberately conservative: a prediction applies only when its
// confidence clears the configured gate, and everything else falls back to
// static defaults. Observations persist in a JSONL history; training folds
// the history into an immutable snapshot that readers load atomically.
package optimizer
