package workflow

import (
	"context"
	"log/slog"
	"time"

	"subforge/internal/basecache"
	"subforge/internal/config"
	"subforge/internal/features"
	"subforge/internal/identity"
	"subforge/internal/logging"
	"subforge/internal/media/ffprobe"
	"subforge/internal/optimizer"
	"subforge/internal/pipeline"
	"subforge/internal/queue"
	"subforge/internal/similarity"
	"subforge/internal/stage"
	"subforge/internal/terms"
)

// Manager orchestrates one job through the stage table: identity, manifest
// resume, cache consults, parameter selection, stage execution, and the
// learning-layer ingest on completion.
type Manager struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger

	identity  *identity.Service
	cache     *basecache.Store
	index     *similarity.Index
	terms     *terms.Store
	optimizer *optimizer.Optimizer
	extractor *features.Extractor

	descriptors []stage.Descriptor
	handlers    map[string]stage.Handler
	probe       func(ctx context.Context, source string) (ffprobe.Result, error)
	now         func() time.Time
}

// NewManager wires the orchestrator with its default collaborators.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	termStore := terms.NewStore(cfg, logger)
	m := &Manager{
		cfg:         cfg,
		store:       store,
		logger:      logging.NewComponentLogger(logger, "workflow"),
		identity:    identity.NewService(cfg.FFmpegBinary(), cfg.FFprobeBinary()),
		cache:       basecache.NewStore(cfg, logger),
		index:       similarity.NewIndex(cfg, logger),
		terms:       termStore,
		optimizer:   optimizer.New(cfg, logger),
		extractor:   features.NewExtractor(cfg.FFmpegBinary()),
		descriptors: pipeline.Descriptors(cfg),
		handlers: map[string]stage.Handler{
			pipeline.StageExtract:    pipeline.NewExtractor(cfg, logger),
			pipeline.StageSegment:    pipeline.NewSegmenter(cfg, logger),
			pipeline.StageTranscribe: pipeline.NewTranscriber(cfg, logger),
			pipeline.StageTranslate:  pipeline.NewTranslator(cfg, termStore, logger),
			pipeline.StageAssemble:   pipeline.NewAssembler(cfg, logger),
			pipeline.StageRemux:      pipeline.NewRemuxer(cfg, logger),
		},
		now: time.Now,
	}
	m.probe = func(ctx context.Context, source string) (ffprobe.Result, error) {
		return ffprobe.Inspect(ctx, cfg.FFprobeBinary(), source)
	}
	return m
}

// WithHandler overrides one stage handler (tests).
func (m *Manager) WithHandler(name string, handler stage.Handler) *Manager {
	m.handlers[name] = handler
	return m
}

// WithIdentityService overrides the identity service (tests).
func (m *Manager) WithIdentityService(svc *identity.Service) *Manager {
	m.identity = svc
	return m
}

// WithProber overrides the media prober (tests).
func (m *Manager) WithProber(probe func(ctx context.Context, source string) (ffprobe.Result, error)) *Manager {
	m.probe = probe
	return m
}

// WithFeatureExtractor overrides the feature extractor (tests).
func (m *Manager) WithFeatureExtractor(extractor *features.Extractor) *Manager {
	m.extractor = extractor
	return m
}

// Cache exposes the baseline cache store for operator commands.
func (m *Manager) Cache() *basecache.Store { return m.cache }

// SimilarityIndex exposes the similarity index for operator commands.
func (m *Manager) SimilarityIndex() *similarity.Index { return m.index }

// Terms exposes the terminology store for operator commands.
func (m *Manager) Terms() *terms.Store { return m.terms }
