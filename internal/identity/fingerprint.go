package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"subforge/internal/config"
)

// ConfigFingerprint hashes the subset of configuration that affects baseline
// stage outputs. Target language, glossary, and output formatting are
// deliberately excluded so cache entries survive per-job choices.
func ConfigFingerprint(cfg *config.Config) string {
	var b strings.Builder
	b.WriteString("subforge-config/v1\n")
	if cfg != nil {
		fmt.Fprintf(&b, "source_language=%s\n", strings.ToLower(strings.TrimSpace(cfg.Pipeline.SourceLanguage)))
		fmt.Fprintf(&b, "transcribe_model=%s\n", strings.TrimSpace(cfg.Pipeline.TranscribeModel))
		fmt.Fprintf(&b, "beam_size=%d\n", cfg.Pipeline.BeamSize)
		fmt.Fprintf(&b, "vad_aggressiveness=%d\n", cfg.Pipeline.VADAggressiveness)
		fmt.Fprintf(&b, "chunk_seconds=%d\n", cfg.Pipeline.ChunkSeconds)
	}
	digest := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(digest[:])[:16]
}
