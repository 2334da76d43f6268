package config

const (
	defaultStagingDir = "~/.local/share/subforge/staging"
	defaultOutputDir  = "~/subtitles"
	defaultLogDir     = "~/.local/share/subforge/logs"
	defaultCacheDir   = "~/.local/share/subforge/cache/baseline"
	defaultDataDir    = "~/.local/share/subforge/data"
	defaultLogFormat  = "console"
	defaultLogLevel   = "info"

	defaultSourceLanguage    = "auto"
	defaultTargetLanguage    = "en"
	defaultTranscribeModel   = "medium"
	defaultBeamSize          = 5
	defaultVADAggressive     = 2
	defaultChunkSeconds      = 30
	defaultExtractTimeout    = 600
	defaultSegmentTimeout    = 600
	defaultTranscribeTimeout = 7200
	defaultTranslateTimeout  = 3600
	defaultAssembleTimeout   = 300
	defaultRemuxTimeout      = 1800

	defaultCacheTTLDays = 30
	defaultCacheMaxGiB  = 50.0

	defaultSimilarityThreshold    = 0.75
	defaultNearDuplicateThreshold = 0.90
	defaultSimilarityMaxRecords   = 2000
	defaultOptimizerConfidence    = 0.70
	defaultOptimizerRetrainAfter  = 10
	defaultTermsMinConfidence     = 0.70
	defaultTermsMinOccurrences    = 2
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			CacheDir:   defaultCacheDir,
			DataDir:    defaultDataDir,
		},
		Pipeline: Pipeline{
			SourceLanguage:           defaultSourceLanguage,
			TargetLanguage:           defaultTargetLanguage,
			TranscribeModel:          defaultTranscribeModel,
			BeamSize:                 defaultBeamSize,
			VADAggressiveness:        defaultVADAggressive,
			ChunkSeconds:             defaultChunkSeconds,
			ExtractTimeoutSeconds:    defaultExtractTimeout,
			SegmentTimeoutSeconds:    defaultSegmentTimeout,
			TranscribeTimeoutSeconds: defaultTranscribeTimeout,
			TranslateTimeoutSeconds:  defaultTranslateTimeout,
			AssembleTimeoutSeconds:   defaultAssembleTimeout,
			RemuxTimeoutSeconds:      defaultRemuxTimeout,
			TranslationRequired:      false,
		},
		Cache: Cache{
			Enabled: true,
			TTLDays: defaultCacheTTLDays,
			MaxGiB:  defaultCacheMaxGiB,
		},
		Similarity: Similarity{
			Enabled:                true,
			Threshold:              defaultSimilarityThreshold,
			NearDuplicateThreshold: defaultNearDuplicateThreshold,
			AllowArtifactReuse:     false,
			MaxRecords:             defaultSimilarityMaxRecords,
		},
		Optimizer: Optimizer{
			Enabled:             true,
			ConfidenceThreshold: defaultOptimizerConfidence,
			RetrainAfter:        defaultOptimizerRetrainAfter,
		},
		Terms: Terms{
			Enabled:        true,
			MinConfidence:  defaultTermsMinConfidence,
			MinOccurrences: defaultTermsMinOccurrences,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
