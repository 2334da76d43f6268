package stage

import (
	"encoding/json"
	"fmt"

	"subforge/internal/config"
)

// Params are the tunable processing parameters the optimizer predicts and
// the similarity index reuses. They cover the knobs with real accuracy/time
// trade-offs; everything else stays in static configuration.
type Params struct {
	TranscribeModel   string `json:"transcribe_model"`
	BeamSize          int    `json:"beam_size"`
	VADAggressiveness int    `json:"vad_aggressiveness"`
	ChunkSeconds      int    `json:"chunk_seconds"`
}

// DefaultParams returns the static fallback parameters from configuration,
// applied whenever no learned prediction clears the confidence gate.
func DefaultParams(cfg *config.Config) Params {
	if cfg == nil {
		return Params{TranscribeModel: "medium", BeamSize: 5, VADAggressiveness: 2, ChunkSeconds: 30}
	}
	return Params{
		TranscribeModel:   cfg.Pipeline.TranscribeModel,
		BeamSize:          cfg.Pipeline.BeamSize,
		VADAggressiveness: cfg.Pipeline.VADAggressiveness,
		ChunkSeconds:      cfg.Pipeline.ChunkSeconds,
	}
}

// Encode serializes params for persistence in the queue row.
func (p Params) Encode() (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return string(payload), nil
}

// DecodeParams parses a serialized params payload; empty input returns ok=false.
func DecodeParams(payload string) (Params, bool, error) {
	if payload == "" {
		return Params{}, false, nil
	}
	var p Params
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return Params{}, false, fmt.Errorf("decode params: %w", err)
	}
	return p, true, nil
}
