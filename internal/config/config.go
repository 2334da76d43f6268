package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir   string `toml:"staging_dir"`
	OutputDir    string `toml:"output_dir"`
	LogDir       string `toml:"log_dir"`
	CacheDir     string `toml:"cache_dir"`
	DataDir      string `toml:"data_dir"`
	GlossaryPath string `toml:"glossary_path"`
}

// Tools names the external collaborator binaries the pipeline shells out to.
type Tools struct {
	FFmpeg      string `toml:"ffmpeg"`
	FFprobe     string `toml:"ffprobe"`
	Transcriber string `toml:"transcriber"`
	Translator  string `toml:"translator"`
}

// Pipeline contains stage defaults: languages, model selection, and per-stage
// timeouts in seconds.
type Pipeline struct {
	SourceLanguage           string `toml:"source_language"`
	TargetLanguage           string `toml:"target_language"`
	TranscribeModel          string `toml:"transcribe_model"`
	BeamSize                 int    `toml:"beam_size"`
	VADAggressiveness        int    `toml:"vad_aggressiveness"`
	ChunkSeconds             int    `toml:"chunk_seconds"`
	ExtractTimeoutSeconds    int    `toml:"extract_timeout_seconds"`
	SegmentTimeoutSeconds    int    `toml:"segment_timeout_seconds"`
	TranscribeTimeoutSeconds int    `toml:"transcribe_timeout_seconds"`
	TranslateTimeoutSeconds  int    `toml:"translate_timeout_seconds"`
	AssembleTimeoutSeconds   int    `toml:"assemble_timeout_seconds"`
	RemuxTimeoutSeconds      int    `toml:"remux_timeout_seconds"`
	TranslationRequired      bool   `toml:"translation_required"`
}

// Cache controls the content-addressed baseline artifact cache.
type Cache struct {
	Enabled bool    `toml:"enabled"`
	TTLDays int     `toml:"ttl_days"`
	MaxGiB  float64 `toml:"max_gib"`
}

// Similarity controls approximate parameter reuse from historical jobs.
type Similarity struct {
	Enabled                bool    `toml:"enabled"`
	Threshold              float64 `toml:"threshold"`
	NearDuplicateThreshold float64 `toml:"near_duplicate_threshold"`
	AllowArtifactReuse     bool    `toml:"allow_artifact_reuse"`
	MaxRecords             int     `toml:"max_records"`
}

// Optimizer controls learned stage parameterization.
type Optimizer struct {
	Enabled             bool    `toml:"enabled"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	RetrainAfter        int     `toml:"retrain_after"`
}

// Terms controls cross-job terminology accumulation.
type Terms struct {
	Enabled        bool    `toml:"enabled"`
	MinConfidence  float64 `toml:"min_confidence"`
	MinOccurrences int     `toml:"min_occurrences"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the top-level subforge configuration.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Tools      Tools      `toml:"tools"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Cache      Cache      `toml:"cache"`
	Similarity Similarity `toml:"similarity"`
	Optimizer  Optimizer  `toml:"optimizer"`
	Terms      Terms      `toml:"terms"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path of the default config location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/subforge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return value
// is the resolved path; the third reports whether a file was found (defaults
// are used when it is false).
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(defaultPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaultPath, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return defaultPath, true, nil
}

// EnsureDirectories creates all configured directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.StagingDir,
		c.Paths.OutputDir,
		c.Paths.LogDir,
		c.Paths.CacheDir,
		c.Paths.DataDir,
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the configured ffmpeg binary or the PATH default.
func (c *Config) FFmpegBinary() string {
	return binaryOrDefault(c.Tools.FFmpeg, "ffmpeg")
}

// FFprobeBinary returns the configured ffprobe binary or the PATH default.
func (c *Config) FFprobeBinary() string {
	return binaryOrDefault(c.Tools.FFprobe, "ffprobe")
}

// TranscriberBinary returns the configured transcriber binary.
func (c *Config) TranscriberBinary() string {
	return binaryOrDefault(c.Tools.Transcriber, "whisper")
}

// TranslatorBinary returns the configured translator binary.
func (c *Config) TranslatorBinary() string {
	return binaryOrDefault(c.Tools.Translator, "")
}

func binaryOrDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func expandPath(pathValue string) (string, error) {
	trimmed := strings.TrimSpace(pathValue)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, trimmed[2:])
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	return abs, nil
}

// ExpandPath resolves ~ and relative segments for user-supplied paths.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func CreateSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
