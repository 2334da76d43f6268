package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeThresholds()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.GlossaryPath) != "" {
		if c.Paths.GlossaryPath, err = expandPath(c.Paths.GlossaryPath); err != nil {
			return fmt.Errorf("paths.glossary_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizePipeline() {
	p := &c.Pipeline
	if strings.TrimSpace(p.SourceLanguage) == "" {
		p.SourceLanguage = defaultSourceLanguage
	}
	if strings.TrimSpace(p.TargetLanguage) == "" {
		p.TargetLanguage = defaultTargetLanguage
	}
	if strings.TrimSpace(p.TranscribeModel) == "" {
		p.TranscribeModel = defaultTranscribeModel
	}
	if p.BeamSize <= 0 {
		p.BeamSize = defaultBeamSize
	}
	if p.VADAggressiveness < 0 || p.VADAggressiveness > 3 {
		p.VADAggressiveness = defaultVADAggressive
	}
	if p.ChunkSeconds <= 0 {
		p.ChunkSeconds = defaultChunkSeconds
	}
	ensureTimeout(&p.ExtractTimeoutSeconds, defaultExtractTimeout)
	ensureTimeout(&p.SegmentTimeoutSeconds, defaultSegmentTimeout)
	ensureTimeout(&p.TranscribeTimeoutSeconds, defaultTranscribeTimeout)
	ensureTimeout(&p.TranslateTimeoutSeconds, defaultTranslateTimeout)
	ensureTimeout(&p.AssembleTimeoutSeconds, defaultAssembleTimeout)
	ensureTimeout(&p.RemuxTimeoutSeconds, defaultRemuxTimeout)
}

func ensureTimeout(value *int, fallback int) {
	if *value <= 0 {
		*value = fallback
	}
}

func (c *Config) normalizeThresholds() {
	if c.Cache.TTLDays <= 0 {
		c.Cache.TTLDays = defaultCacheTTLDays
	}
	if c.Cache.MaxGiB <= 0 {
		c.Cache.MaxGiB = defaultCacheMaxGiB
	}
	if c.Similarity.Threshold <= 0 {
		c.Similarity.Threshold = defaultSimilarityThreshold
	}
	if c.Similarity.NearDuplicateThreshold <= 0 {
		c.Similarity.NearDuplicateThreshold = defaultNearDuplicateThreshold
	}
	if c.Similarity.MaxRecords <= 0 {
		c.Similarity.MaxRecords = defaultSimilarityMaxRecords
	}
	if c.Optimizer.ConfidenceThreshold <= 0 {
		c.Optimizer.ConfidenceThreshold = defaultOptimizerConfidence
	}
	if c.Optimizer.RetrainAfter <= 0 {
		c.Optimizer.RetrainAfter = defaultOptimizerRetrainAfter
	}
	if c.Terms.MinConfidence <= 0 {
		c.Terms.MinConfidence = defaultTermsMinConfidence
	}
	if c.Terms.MinOccurrences <= 0 {
		c.Terms.MinOccurrences = defaultTermsMinOccurrences
	}
}

func (c *Config) normalizeLogging() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}
