package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"subforge/internal/logging"
	"subforge/internal/manifest"
	"subforge/internal/services"
	"subforge/internal/stage"
)

// Options controls one stage execution and its manifest transitions.
type Options struct {
	Logger     *slog.Logger
	Manifest   *manifest.Manifest
	Descriptor stage.Descriptor
	Handler    stage.Handler
	Job        *stage.Job
}

// Result reports how the stage concluded when the job may continue.
type Result struct {
	Status   manifest.Status
	Note     string
	CacheHit bool
	Ran      bool
}

// Run executes one stage under its descriptor timeout and records the
// outcome in the manifest. The returned error is non-nil only when the job
// must stop: a critical stage failed, or the manifest itself could not be
// persisted. Non-critical failures are recorded as skips and the pipeline
// continues.
func Run(ctx context.Context, opts Options) (Result, error) {
	name := opts.Descriptor.Name
	if opts.Handler == nil {
		return Result{}, fmt.Errorf("stage handler unavailable: %s", name)
	}
	if opts.Manifest == nil {
		return Result{}, fmt.Errorf("manifest is required")
	}
	if opts.Job == nil {
		return Result{}, fmt.Errorf("job is required")
	}

	stageCtx := logging.WithStage(ctx, name)
	stageLogger := logging.WithContext(stageCtx, opts.Logger)

	if opts.Manifest.ShouldSkip(name) {
		record, _ := opts.Manifest.StageRecordFor(name)
		stageLogger.Info("stage already complete, resuming past it",
			logging.String(logging.FieldEventType, "stage_resume_skip"))
		return Result{Status: manifest.StatusSuccess, CacheHit: record.CacheHit}, nil
	}

	if err := opts.Manifest.RecordStart(name); err != nil {
		return Result{}, fmt.Errorf("record stage start: %w", err)
	}

	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Duration("timeout", opts.Descriptor.Timeout))

	started := time.Now()
	err := executeWithTimeout(stageCtx, opts)
	if err == nil {
		err = verifyArtifacts(opts.Descriptor, opts.Job.Dir)
	}

	if err == nil {
		if recErr := opts.Manifest.RecordResult(name, manifest.StatusSuccess, opts.Descriptor.NextName(), "", false); recErr != nil {
			return Result{}, fmt.Errorf("record stage result: %w", recErr)
		}
		stageLogger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("elapsed", time.Since(started)))
		return Result{Status: manifest.StatusSuccess, Ran: true}, nil
	}

	// Cooperative cancellation is not a stage verdict; leave the record
	// pending so a resumed run retries this stage.
	if ctx.Err() != nil && !errors.Is(err, services.ErrStageTimeout) {
		return Result{}, ctx.Err()
	}

	note := services.Details(err)
	if opts.Descriptor.Critical {
		if recErr := opts.Manifest.RecordResult(name, manifest.StatusFailed, opts.Descriptor.NextName(), note, false); recErr != nil {
			stageLogger.Error("failed to persist stage failure", logging.Error(recErr))
		}
		stageLogger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.Error(err))
		return Result{Status: manifest.StatusFailed, Note: note}, err
	}

	if recErr := opts.Manifest.RecordResult(name, manifest.StatusSkipped, opts.Descriptor.NextName(), note, false); recErr != nil {
		return Result{}, fmt.Errorf("record stage skip: %w", recErr)
	}
	stageLogger.Warn("stage failed, continuing without it",
		logging.String(logging.FieldEventType, "stage_skipped"),
		logging.String(logging.FieldImpact, "degraded output"),
		logging.Error(err))
	return Result{Status: manifest.StatusSkipped, Note: note}, nil
}

func executeWithTimeout(ctx context.Context, opts Options) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Descriptor.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Descriptor.Timeout)
		defer cancel()
	}

	err := opts.Handler.Execute(runCtx, opts.Job)
	if err == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return services.Wrap(services.ErrStageTimeout, opts.Descriptor.Name, "execute",
			fmt.Sprintf("exceeded %s", opts.Descriptor.Timeout), err)
	}
	if errors.Is(err, services.ErrStageTimeout) || errors.Is(err, services.ErrStageFailure) || errors.Is(err, services.ErrValidation) {
		return err
	}
	return services.Wrap(services.ErrStageFailure, opts.Descriptor.Name, "execute", "", err)
}

// verifyArtifacts confirms every declared artifact exists and is non-empty.
// A stage that "succeeds" without its outputs failed.
func verifyArtifacts(descriptor stage.Descriptor, dir string) error {
	for _, name := range descriptor.Artifacts {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return services.Wrap(services.ErrValidation, descriptor.Name, "verify artifacts",
				fmt.Sprintf("missing %s", name), err)
		}
		if info.Size() == 0 {
			return services.Wrap(services.ErrValidation, descriptor.Name, "verify artifacts",
				fmt.Sprintf("%s is empty", name), nil)
		}
	}
	return nil
}
