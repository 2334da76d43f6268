package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"subforge/internal/config"
	"subforge/internal/features"
	"subforge/internal/fileutil"
	"subforge/internal/logging"
	"subforge/internal/services"
	"subforge/internal/stage"
	"subforge/internal/terms"
)

// Translator invokes the configured translation collaborator over the
// transcript. Trusted terminology and the manual glossary are handed to the
// tool as a context file so recurring names translate consistently. When
// the detected language already matches the target the stage passes the
// transcript through unchanged.
type Translator struct {
	cfg    *config.Config
	logger *slog.Logger
	run    commandRunner
	terms  *terms.Store
}

// NewTranslator constructs the translation handler.
func NewTranslator(cfg *config.Config, store *terms.Store, logger *slog.Logger) *Translator {
	return &Translator{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "translate"),
		run:    runCommand,
		terms:  store,
	}
}

// WithRunner overrides the command runner (tests).
func (t *Translator) WithRunner(run commandRunner) *Translator {
	t.run = run
	return t
}

const contextFileName = "context_terms.json"

func (t *Translator) Execute(ctx context.Context, job *stage.Job) error {
	transcript, err := ReadTranscript(job.Dir)
	if err != nil {
		return err
	}

	source := job.DetectedLanguage
	if source == "" || source == "und" {
		source = features.CanonicalLanguage(transcript.Language)
	}
	target := features.CanonicalLanguage(job.TargetLanguage)
	logger := logging.WithContext(ctx, t.logger)

	if source != "und" && source == target {
		logger.Info("source already in target language, passing transcript through",
			logging.String("language", source))
		return t.writeTranslation(job.Dir, Translation{
			SourceLanguage: source,
			TargetLanguage: target,
			Lines:          transcript.Lines,
		})
	}

	contextPath, err := t.writeContextTerms(job.Dir)
	if err != nil {
		return err
	}

	targetPath := filepath.Join(job.Dir, ArtifactTranslation)
	args := []string{
		"--source", source,
		"--target", target,
		"--output", targetPath,
	}
	if contextPath != "" {
		args = append(args, "--context", contextPath)
	}
	args = append(args, filepath.Join(job.Dir, ArtifactTranscript))

	logger.Info("translating transcript",
		logging.String("source_language", source),
		logging.String("target_language", target))
	if _, err := t.run(ctx, t.cfg.TranslatorBinary(), args...); err != nil {
		return services.Wrap(services.ErrStageFailure, StageTranslate, "translator", "translation failed", err)
	}

	translation, err := ReadTranslation(job.Dir)
	if err != nil {
		return err
	}
	if len(translation.Lines) == 0 {
		return services.Wrap(services.ErrValidation, StageTranslate, "validate", "translation has no lines", nil)
	}
	return nil
}

// writeContextTerms merges the manual glossary with trusted learned terms
// and writes them beside the artifacts. An empty merge writes nothing; the
// terminology layer is advisory.
func (t *Translator) writeContextTerms(dir string) (string, error) {
	manual, err := terms.LoadGlossary(t.cfg.Paths.GlossaryPath)
	if err != nil {
		t.logger.Warn("glossary unreadable, translating without it", logging.Error(err))
		manual = nil
	}
	learned, err := t.terms.Query()
	if err != nil {
		t.logger.Warn("terminology store unreadable, translating without it", logging.Error(err))
		learned = nil
	}
	merged := terms.Merge(manual, learned)
	if len(merged) == 0 {
		return "", nil
	}

	payload, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return "", services.Wrap(services.ErrStageFailure, StageTranslate, "encode context terms", "", err)
	}
	path := filepath.Join(dir, contextFileName)
	if err := fileutil.WriteFileAtomic(path, payload, 0o644); err != nil {
		return "", services.Wrap(services.ErrStageFailure, StageTranslate, "write context terms", "", err)
	}
	return path, nil
}

func (t *Translator) writeTranslation(dir string, translation Translation) error {
	payload, err := json.MarshalIndent(translation, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrStageFailure, StageTranslate, "encode", "", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, ArtifactTranslation), payload, 0o644); err != nil {
		return services.Wrap(services.ErrStageFailure, StageTranslate, "write artifact", "", err)
	}
	return nil
}

// ReadTranslation loads and validates the translation artifact from a job
// directory.
func ReadTranslation(dir string) (Translation, error) {
	payload, err := os.ReadFile(filepath.Join(dir, ArtifactTranslation))
	if err != nil {
		return Translation{}, services.Wrap(services.ErrValidation, StageTranslate, "read artifact", "", err)
	}
	var translation Translation
	if err := json.Unmarshal(payload, &translation); err != nil {
		return Translation{}, services.Wrap(services.ErrValidation, StageTranslate, "parse artifact", "", err)
	}
	return translation, nil
}
