package stage

import "context"

// Job carries the mutable per-job state handlers operate on. Handlers read
// and write files inside Dir; anything they need to hand to a later stage
// goes through the fields here or through artifacts on disk.
type Job struct {
	ID         int64
	RunID      string
	SourcePath string
	// Dir is the per-job working directory. Declared artifacts are
	// produced and consumed at paths relative to it.
	Dir    string
	Params Params
	// SourceLanguage is the configured input language ("auto" to detect).
	SourceLanguage string
	TargetLanguage string
	// DetectedLanguage is populated by transcription when the source
	// language was auto-detected.
	DetectedLanguage string
}

// Handler executes one stage of the pipeline. Implementations must respect
// context cancellation and report failure through the services error
// taxonomy so the executor can classify it.
type Handler interface {
	Execute(ctx context.Context, job *Job) error
}
