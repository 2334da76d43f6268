package optimizer

import (
	"time"

	"subforge/internal/features"
	"subforge/internal/stage"
)

// Outcome describes how a job finished under a given parameter set.
type Outcome struct {
	Quality float64 `json:"quality"`
	Seconds float64 `json:"seconds"`
}

// Observation is one completed job the optimizer can learn from.
type Observation struct {
	Features  features.Vector `json:"features"`
	Params    stage.Params    `json:"params"`
	Outcome   Outcome         `json:"outcome"`
	CreatedAt time.Time       `json:"created_at"`
}

// Prediction is the optimizer's transient answer for one input. Callers must
// not apply a prediction whose confidence sits below the configured gate.
type Prediction struct {
	Params     stage.Params
	Confidence float64
	Basis      string
}

// Prediction basis values.
const (
	BasisModel   = "model"
	BasisNoModel = "no_model"
)

// model is an immutable snapshot of trained state. Predictions read whatever
// snapshot was current when they started; retraining swaps in a new one.
type model struct {
	observations []Observation
	trainedAt    time.Time
}

// predict scores the input against every retained observation and answers
// with the parameters of the closest one. Confidence blends feature
// similarity with the recorded outcome quality so a close match that
// produced poor output still gets gated.
func (m *model) predict(vector features.Vector) Prediction {
	if m == nil || len(m.observations) == 0 || vector.IsZero() {
		return Prediction{Basis: BasisNoModel}
	}

	best := -1
	bestScore := 0.0
	for i, obs := range m.observations {
		score := features.Similarity(vector, obs.Features)
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}

	chosen := m.observations[best]
	return Prediction{
		Params:     chosen.Params,
		Confidence: bestScore * chosen.Outcome.Quality,
		Basis:      BasisModel,
	}
}
