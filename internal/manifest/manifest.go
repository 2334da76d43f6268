package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"subforge/internal/fileutil"
	"subforge/internal/services"
)

const (
	manifestVersion  = 1
	manifestFileName = "manifest.json"
)

// Status is the lifecycle state of a single stage within a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// JobStatus is the overall state of a job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// StageRecord captures the outcome of one stage execution.
type StageRecord struct {
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	NextStage       string    `json:"next_stage,omitempty"`
	Note            string    `json:"note,omitempty"`
	CacheHit        bool      `json:"cache_hit,omitempty"`
}

// Manifest is the durable, human-inspectable record of a job's stage history.
// It is the sole authority for resume decisions.
type Manifest struct {
	Version           int                    `json:"version"`
	JobID             string                 `json:"job_id"`
	SourcePath        string                 `json:"source_path"`
	MediaID           string                 `json:"media_id"`
	ConfigFingerprint string                 `json:"config_fingerprint"`
	Status            JobStatus              `json:"status"`
	CreatedAt         time.Time              `json:"created_at"`
	FinishedAt        time.Time              `json:"finished_at,omitzero"`
	FailedStage       string                 `json:"failed_stage,omitempty"`
	FailureReason     string                 `json:"failure_reason,omitempty"`
	Stages            map[string]StageRecord `json:"stages"`

	path string
}

// Path returns the manifest file location for a job directory.
func Path(jobDir string) string {
	return filepath.Join(jobDir, manifestFileName)
}

// New creates a fresh manifest for a job rooted at jobDir. Nothing is written
// until the first Save.
func New(jobDir, jobID, sourcePath, mediaID, configFingerprint string) *Manifest {
	return &Manifest{
		Version:           manifestVersion,
		JobID:             jobID,
		SourcePath:        sourcePath,
		MediaID:           mediaID,
		ConfigFingerprint: configFingerprint,
		Status:            JobRunning,
		CreatedAt:         time.Now().UTC(),
		Stages:            make(map[string]StageRecord),
		path:              Path(jobDir),
	}
}

// Load reads the manifest under jobDir. A missing file returns (nil, nil).
// An unparseable or version-mismatched file returns an ErrManifestCorruption
// wrapped error; per policy callers treat that as absent and restart the job
// from scratch.
func Load(jobDir string) (*Manifest, error) {
	path := Path(jobDir)
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrManifestCorruption, "manifest", "read", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, services.Wrap(services.ErrManifestCorruption, "manifest", "parse", path, err)
	}
	if m.Version != manifestVersion {
		return nil, services.Wrap(services.ErrManifestCorruption, "manifest", "parse", fmt.Sprintf("unsupported version %d", m.Version), nil)
	}
	if m.Stages == nil {
		m.Stages = make(map[string]StageRecord)
	}
	m.path = path
	return &m, nil
}

// Save writes the manifest durably via temp-file-then-rename, so a crash
// mid-write can never leave a torn record.
func (m *Manifest) Save() error {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := fileutil.WriteFileAtomic(m.path, payload, 0o644); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	return nil
}

// RecordStart marks a stage as in progress and flushes. At most one stage is
// in progress at a time; starting a new one while another is still pending is
// a programming error surfaced loudly.
func (m *Manifest) RecordStart(stage string) error {
	for name, record := range m.Stages {
		if record.Status == StatusPending && name != stage {
			return fmt.Errorf("stage %s still in progress while starting %s", name, stage)
		}
	}
	m.Stages[stage] = StageRecord{
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
	return m.Save()
}

// RecordResult finalizes a stage record and flushes. NextStage is mandatory
// on every transition out of pending, including skips and failures, so resume
// logic never has to infer the next action; the final stage records the
// sentinel "done".
func (m *Manifest) RecordResult(stage string, status Status, nextStage, note string, cacheHit bool) error {
	if status == StatusPending {
		return fmt.Errorf("stage %s: result status cannot be pending", stage)
	}
	if strings.TrimSpace(nextStage) == "" {
		return fmt.Errorf("stage %s: next stage is required on every transition", stage)
	}
	record := m.Stages[stage]
	record.Status = status
	record.NextStage = nextStage
	record.Note = strings.TrimSpace(note)
	record.CacheHit = cacheHit
	if !record.StartedAt.IsZero() {
		record.DurationSeconds = time.Since(record.StartedAt).Seconds()
	}
	m.Stages[stage] = record
	return m.Save()
}

// ShouldSkip reports whether a stage already completed successfully in a
// prior run of this job.
func (m *Manifest) ShouldSkip(stage string) bool {
	record, ok := m.Stages[stage]
	return ok && record.Status == StatusSuccess
}

// StageRecordFor returns the record for a stage, if present.
func (m *Manifest) StageRecordFor(stage string) (StageRecord, bool) {
	record, ok := m.Stages[stage]
	return record, ok
}

// Finalize sets the terminal job status and flushes.
func (m *Manifest) Finalize(status JobStatus, failedStage, reason string) error {
	m.Status = status
	m.FinishedAt = time.Now().UTC()
	m.FailedStage = strings.TrimSpace(failedStage)
	m.FailureReason = strings.TrimSpace(reason)
	return m.Save()
}

// Matches reports whether the manifest belongs to the given identity and
// configuration fingerprint. A mismatch means the prior history cannot be
// reused (the source content or baseline config changed under the same path).
func (m *Manifest) Matches(mediaID, configFingerprint string) bool {
	return m.MediaID == mediaID && m.ConfigFingerprint == configFingerprint
}
