package queue

import (
	"strings"
	"time"
)

// Status represents the coarse lifecycle of a queued job. Per-stage state
// lives in the job's manifest; the queue row only summarizes it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ValidStatus reports whether the value is a known job status.
func ValidStatus(status Status) bool {
	_, ok := statusSet[status]
	return ok
}

// Job represents a pipeline job persisted in SQLite.
type Job struct {
	ID                int64
	RunID             string
	SourcePath        string
	Title             string
	Status            Status
	MediaID           string
	ConfigFingerprint string
	JobDir            string
	ParamsJSON        string
	ParamsOrigin      string
	DetectedLanguage  string
	FinalFile         string
	ErrorMessage      string
	ProgressStage     string
	ProgressMessage   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
	LastHeartbeat     *time.Time
}

// SetFailed marks the job failed with a trimmed error message.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = strings.TrimSpace(message)
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
}

func inferTitleFromPath(path string) string {
	base := strings.TrimSpace(path)
	if base == "" {
		return ""
	}
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		base = base[:idx]
	}
	base = strings.NewReplacer("_", " ", ".", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
