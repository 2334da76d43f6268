package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"subforge/internal/basecache"
	"subforge/internal/features"
	"subforge/internal/fileutil"
	"subforge/internal/identity"
	"subforge/internal/logging"
	"subforge/internal/manifest"
	"subforge/internal/optimizer"
	"subforge/internal/pipeline"
	"subforge/internal/queue"
	"subforge/internal/services"
	"subforge/internal/similarity"
	"subforge/internal/stage"
	"subforge/internal/stageexec"
)

// staleRunningThreshold is how long a running job may go without a heartbeat
// before startup reclaims it back to pending.
const staleRunningThreshold = 10 * time.Minute

// Enqueue adds a media file to the queue.
func (m *Manager) Enqueue(ctx context.Context, sourcePath string) (*queue.Job, error) {
	absPath, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("source file: %w", err)
	}
	return m.store.NewJob(ctx, absPath)
}

// ProcessQueue reclaims stale running jobs and drains the pending queue.
// It stops when the queue is empty, the context is cancelled, or the queue
// store itself fails.
func (m *Manager) ProcessQueue(ctx context.Context) error {
	if reclaimed, err := m.store.ReclaimStale(ctx, staleRunningThreshold); err != nil {
		m.logger.Warn("stale job reclaim failed", logging.Error(err))
	} else if reclaimed > 0 {
		m.logger.Info("reclaimed interrupted jobs", logging.Int64("count", reclaimed))
	}

	for {
		processed, err := m.ProcessNext(ctx)
		if err != nil {
			// An error with no job claimed means the store itself is
			// failing; retrying would spin on the same error.
			if !processed || errors.Is(err, context.Canceled) {
				return err
			}
			// Job-level failures are recorded on the job; keep draining.
			m.logger.Warn("job failed", logging.Error(err))
			continue
		}
		if !processed {
			return nil
		}
	}
}

// ProcessNext claims and processes the oldest pending job. The flag reports
// whether a job was claimed: false with a nil error means the queue is
// empty, false with an error means the claim itself failed.
func (m *Manager) ProcessNext(ctx context.Context) (bool, error) {
	job, err := m.store.NextPending(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, m.Process(ctx, job)
}

// Process runs one claimed job through the stage table.
func (m *Manager) Process(ctx context.Context, job *queue.Job) error {
	ctx = logging.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, m.logger)
	started := m.now()

	mediaID, err := m.identity.Compute(ctx, job.SourcePath)
	if err != nil {
		// Unreadable media is fatal before any stage runs.
		return m.failJob(ctx, job, nil, "identity", err)
	}
	fingerprint := identity.ConfigFingerprint(m.cfg)
	job.MediaID = string(mediaID)
	job.ConfigFingerprint = fingerprint

	jobDir := filepath.Join(m.cfg.Paths.StagingDir, mediaID.Short()+"-"+shortFingerprint(fingerprint))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return m.failJob(ctx, job, nil, "workspace", fmt.Errorf("create job dir: %w", err))
	}
	job.JobDir = jobDir

	man := m.loadManifest(jobDir, job, mediaID, fingerprint, logger)
	if err := man.Save(); err != nil {
		return m.failJob(ctx, job, nil, "manifest", err)
	}

	vector := m.extractFeatures(ctx, job.SourcePath, logger)
	params, origin, reused := m.resumeParams(job)
	if !reused {
		params, origin = m.selectParams(vector, logger)
		if encoded, err := params.Encode(); err == nil {
			job.ParamsJSON = encoded
		}
		job.ParamsOrigin = origin
	}
	if err := m.store.Update(ctx, job); err != nil {
		logger.Warn("queue update failed", logging.Error(err))
	}

	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String(logging.FieldMediaID, mediaID.Short()),
		logging.String("params_origin", origin))

	sjob := &stage.Job{
		ID:             job.ID,
		RunID:          job.RunID,
		SourcePath:     job.SourcePath,
		Dir:            jobDir,
		Params:         params,
		SourceLanguage: m.cfg.Pipeline.SourceLanguage,
		TargetLanguage: m.cfg.Pipeline.TargetLanguage,
	}

	skipped := 0
	restoredDir := ""
	for _, desc := range m.descriptors {
		// Cancellation is honored at stage boundaries only.
		if ctx.Err() != nil {
			return m.suspendJob(ctx, job, ctx.Err())
		}
		if err := m.store.Heartbeat(ctx, job.ID); err != nil {
			logger.Debug("heartbeat failed", logging.Error(err))
		}
		job.ProgressStage = desc.Name

		if man.ShouldSkip(desc.Name) {
			continue
		}
		if desc.Cacheable && m.consultCache(ctx, man, desc, mediaID, fingerprint, jobDir, vector, &restoredDir, logger) {
			continue
		}

		result, err := stageexec.Run(ctx, stageexec.Options{
			Logger:     m.logger,
			Manifest:   man,
			Descriptor: desc,
			Handler:    m.handlers[desc.Name],
			Job:        sjob,
		})
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return m.suspendJob(ctx, job, err)
			}
			return m.failJob(ctx, job, man, desc.Name, err)
		}
		if result.Status == manifest.StatusSkipped {
			skipped++
			continue
		}
		if result.Ran && desc.Cacheable {
			m.publishBaseline(ctx, desc, mediaID, fingerprint, jobDir)
		}
	}

	if sjob.DetectedLanguage != "" {
		job.DetectedLanguage = sjob.DetectedLanguage
	}

	finalFile, err := m.deliver(man, job)
	if err != nil {
		return m.failJob(ctx, job, man, "deliver", err)
	}
	job.FinalFile = finalFile

	if err := man.Finalize(manifest.JobCompleted, "", ""); err != nil {
		logger.Warn("manifest finalize failed", logging.Error(err))
	}
	completed := m.now().UTC()
	job.Status = queue.StatusCompleted
	job.CompletedAt = &completed
	job.ProgressStage = ""
	job.ProgressMessage = "completed"
	if err := m.store.Update(ctx, job); err != nil {
		logger.Warn("queue update failed", logging.Error(err))
	}

	elapsed := m.now().Sub(started)
	m.ingestOutcome(ctx, job, sjob, vector, params, skipped, elapsed, logger)

	// Staging is transient; repeats are served by the baseline cache.
	if err := os.RemoveAll(jobDir); err != nil {
		logger.Warn("staging cleanup failed", logging.Error(err))
	}

	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("final_file", finalFile),
		logging.Duration("elapsed", elapsed),
		logging.Int("stages_skipped", skipped))
	return nil
}

// loadManifest resolves the resume authority for a job directory. A corrupt
// manifest is treated as absent with a warning; a manifest for different
// content or baseline config restarts from scratch.
func (m *Manager) loadManifest(jobDir string, job *queue.Job, mediaID identity.Identity, fingerprint string, logger *slog.Logger) *manifest.Manifest {
	man, err := manifest.Load(jobDir)
	if err != nil {
		logger.Warn("manifest unreadable, restarting job from scratch",
			logging.String(logging.FieldEventType, "manifest_corrupt"),
			logging.String(logging.FieldImpact, "completed stages will be redone"),
			logging.Error(err))
		man = nil
	}
	if man != nil && !man.Matches(string(mediaID), fingerprint) {
		logger.Info("manifest belongs to different content or config, restarting",
			logging.String(logging.FieldEventType, "manifest_mismatch"))
		man = nil
	}
	if man != nil {
		logger.Info("resuming from manifest",
			logging.String(logging.FieldEventType, "job_resume"))
		return man
	}
	return manifest.New(jobDir, job.RunID, job.SourcePath, string(mediaID), fingerprint)
}

func (m *Manager) extractFeatures(ctx context.Context, sourcePath string, logger *slog.Logger) features.Vector {
	probe, err := m.probe(ctx, sourcePath)
	if err != nil {
		logger.Warn("feature probe failed, adaptive layers get no signal", logging.Error(err))
		return features.Vector{}
	}
	return m.extractor.Extract(ctx, sourcePath, probe)
}

// resumeParams recovers the parameters an interrupted run already chose so
// a resumed job never switches mid-flight.
func (m *Manager) resumeParams(job *queue.Job) (stage.Params, string, bool) {
	prior, ok, err := stage.DecodeParams(job.ParamsJSON)
	if err != nil || !ok {
		return stage.Params{}, "", false
	}
	return prior, job.ParamsOrigin, true
}

// selectParams picks the transcription parameters: a confident optimizer
// prediction wins, then similarity-based reuse, then static defaults.
func (m *Manager) selectParams(vector features.Vector, logger *slog.Logger) (stage.Params, string) {
	prediction := m.optimizer.Predict(vector)
	if m.optimizer.Usable(prediction) {
		logger.Info("applying learned parameters",
			logging.String(logging.FieldEventType, "optimizer_applied"),
			logging.Float64("confidence", prediction.Confidence))
		return prediction.Params, "optimizer"
	}
	if prediction.Basis == optimizer.BasisModel {
		logger.Info("optimizer prediction below confidence gate, using fallback",
			logging.String(logging.FieldEventType, "low_confidence"),
			logging.Float64("confidence", prediction.Confidence),
			logging.Float64("gate", m.optimizer.ConfidenceGate()))
	} else if m.optimizer.Enabled() {
		logger.Info("no optimizer model yet, using fallback",
			logging.String(logging.FieldEventType, "no_model"))
	}

	match, err := m.index.FindSimilar(vector)
	if err != nil {
		logger.Warn("similarity lookup failed", logging.Error(err))
	}
	if match != nil {
		logger.Info("similarity-based parameter reuse",
			logging.String(logging.FieldEventType, "similarity_reuse"),
			logging.Float64("score", match.Score),
			logging.String(logging.FieldMediaID, shortID(match.Record.MediaID)))
		return match.Record.Params, "similarity"
	}
	return stage.DefaultParams(m.cfg), "defaults"
}

// consultCache tries to satisfy a cacheable stage from the baseline cache.
// The entry must cover the stage's declared artifacts at the current stage
// version. With artifact reuse enabled, a near-duplicate's entry under the
// same config fingerprint qualifies too.
func (m *Manager) consultCache(ctx context.Context, man *manifest.Manifest, desc stage.Descriptor, mediaID identity.Identity, fingerprint, jobDir string, vector features.Vector, restoredDir *string, logger *slog.Logger) bool {
	entry, ok := m.cache.Lookup(ctx, mediaID, fingerprint)
	note := "restored from baseline cache"
	if !ok && m.cfg.Similarity.AllowArtifactReuse {
		entry, ok = m.nearDuplicateEntry(ctx, vector, fingerprint, logger)
		if ok {
			note = "restored from near-duplicate baseline"
		}
	}
	if !ok || !entryCovers(entry, desc) {
		return false
	}

	if *restoredDir != entry.Dir {
		if err := m.cache.Restore(ctx, entry, jobDir); err != nil {
			logger.Warn("cache restore failed, running stage fresh",
				logging.String(logging.FieldEventType, "cache_restore_failed"),
				logging.Error(err))
			return false
		}
		*restoredDir = entry.Dir
	}

	if err := man.RecordStart(desc.Name); err != nil {
		logger.Warn("manifest update failed", logging.Error(err))
		return false
	}
	if err := man.RecordResult(desc.Name, manifest.StatusSuccess, desc.NextName(), note, true); err != nil {
		logger.Warn("manifest update failed", logging.Error(err))
		return false
	}
	logger.Info("baseline cache hit",
		logging.String(logging.FieldEventType, "cache_hit"),
		logging.String(logging.FieldStage, desc.Name))
	return true
}

// nearDuplicateEntry finds a verified cache entry from a near-duplicate
// input. Reusing another recording's baseline is aggressive, so it is
// opt-in and logged loudly.
func (m *Manager) nearDuplicateEntry(ctx context.Context, vector features.Vector, fingerprint string, logger *slog.Logger) (*basecache.Entry, bool) {
	matches, err := m.index.Matches(vector)
	if err != nil {
		logger.Warn("similarity lookup failed", logging.Error(err))
		return nil, false
	}
	for _, match := range matches {
		if !match.NearDuplicate {
			break
		}
		entry, ok := m.cache.Lookup(ctx, identity.Identity(match.Record.MediaID), fingerprint)
		if !ok {
			continue
		}
		logger.Warn("reusing baseline artifacts from a near-duplicate input",
			logging.String(logging.FieldEventType, "near_duplicate_reuse"),
			logging.Float64("score", match.Score),
			logging.String(logging.FieldMediaID, shortID(match.Record.MediaID)),
			logging.String(logging.FieldImpact, "output derives from different source media"))
		return entry, true
	}
	return nil, false
}

// publishBaseline stores the cumulative cacheable artifacts produced so far
// under this job's identity and fingerprint.
func (m *Manager) publishBaseline(ctx context.Context, upTo stage.Descriptor, mediaID identity.Identity, fingerprint, jobDir string) {
	var names []string
	versions := make(map[string]string)
	for _, desc := range m.descriptors {
		if !desc.Cacheable {
			continue
		}
		names = append(names, desc.Artifacts...)
		versions[desc.Name] = pipeline.StageVersions()[desc.Name]
		if desc.Name == upTo.Name {
			break
		}
	}
	m.cache.Store(ctx, mediaID, fingerprint, jobDir, names, versions)
}

func entryCovers(entry *basecache.Entry, desc stage.Descriptor) bool {
	version, ok := entry.Meta.StageVersions[desc.Name]
	if !ok || version != pipeline.StageVersions()[desc.Name] {
		return false
	}
	cached := make(map[string]struct{}, len(entry.Meta.Artifacts))
	for _, artifact := range entry.Meta.Artifacts {
		cached[artifact.Name] = struct{}{}
	}
	for _, name := range desc.Artifacts {
		if _, ok := cached[name]; !ok {
			return false
		}
	}
	return true
}

// deliver places the job's output in the output directory: the remuxed
// container when remux succeeded, otherwise the bare subtitle file.
func (m *Manager) deliver(man *manifest.Manifest, job *queue.Job) (string, error) {
	if err := os.MkdirAll(m.cfg.Paths.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(job.SourcePath), filepath.Ext(job.SourcePath))
	lang := m.cfg.Pipeline.TargetLanguage

	if record, ok := man.StageRecordFor(pipeline.StageRemux); ok && record.Status == manifest.StatusSuccess {
		target := filepath.Join(m.cfg.Paths.OutputDir, base+"."+lang+".mkv")
		if err := fileutil.CopyFile(filepath.Join(job.JobDir, pipeline.ArtifactOutput), target); err != nil {
			return "", fmt.Errorf("deliver container: %w", err)
		}
		return target, nil
	}

	target := filepath.Join(m.cfg.Paths.OutputDir, base+"."+lang+".srt")
	if err := fileutil.CopyFile(filepath.Join(job.JobDir, pipeline.ArtifactSubtitles), target); err != nil {
		return "", fmt.Errorf("deliver subtitles: %w", err)
	}
	return target, nil
}

// ingestOutcome feeds the completed job into the learning layers. Every
// ingest is best-effort; the job already succeeded.
func (m *Manager) ingestOutcome(ctx context.Context, job *queue.Job, sjob *stage.Job, vector features.Vector, params stage.Params, skipped int, elapsed time.Duration, logger *slog.Logger) {
	enriched := features.EnrichFromTranscript(vector, sjob.DetectedLanguage, vector.SpeakerCount)
	quality := outcomeQuality(skipped)

	if transcript, err := pipeline.ReadTranscript(job.JobDir); err == nil {
		candidates := pipeline.ExtractCandidates(transcript, job.MediaID)
		if err := m.terms.Ingest(ctx, candidates); err != nil {
			logger.Warn("terminology ingest failed", logging.Error(err))
		}
	}

	if err := m.index.Append(similarity.Record{
		MediaID:  job.MediaID,
		Features: enriched,
		Params:   params,
		Outcome:  similarity.Outcome{Quality: quality, Seconds: elapsed.Seconds()},
	}); err != nil {
		logger.Warn("similarity ingest failed", logging.Error(err))
	}

	if err := m.optimizer.Observe(enriched, params, optimizer.Outcome{Quality: quality, Seconds: elapsed.Seconds()}); err != nil {
		logger.Warn("optimizer ingest failed", logging.Error(err))
	}
}

// outcomeQuality is a coarse proxy for output quality: every degraded
// (skipped) stage costs a fixed share.
func outcomeQuality(skipped int) float64 {
	quality := 1.0 - 0.2*float64(skipped)
	if quality < 0.2 {
		return 0.2
	}
	return quality
}

func (m *Manager) failJob(ctx context.Context, job *queue.Job, man *manifest.Manifest, stageName string, err error) error {
	note := services.Details(err)
	if man != nil {
		if finErr := man.Finalize(manifest.JobFailed, stageName, note); finErr != nil {
			m.logger.Warn("manifest finalize failed", logging.Error(finErr))
		}
	}
	job.SetFailed(fmt.Sprintf("%s: %s", stageName, note))
	job.ProgressStage = stageName
	if updErr := m.store.Update(ctx, job); updErr != nil {
		m.logger.Warn("queue update failed", logging.Error(updErr))
	}
	m.logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String(logging.FieldStage, stageName),
		logging.Error(err))
	return err
}

// suspendJob returns a cancelled job to pending so the next run resumes it
// from the manifest.
func (m *Manager) suspendJob(ctx context.Context, job *queue.Job, cause error) error {
	job.Status = queue.StatusPending
	job.ProgressMessage = "interrupted"
	if err := m.store.Update(context.WithoutCancel(ctx), job); err != nil {
		m.logger.Warn("queue update failed", logging.Error(err))
	}
	return cause
}

func shortFingerprint(fingerprint string) string {
	if len(fingerprint) > 8 {
		return fingerprint[:8]
	}
	return fingerprint
}

func shortID(id string) string {
	return identity.Identity(id).Short()
}
