package stage

import "time"

// Descriptor is the static configuration of one pipeline stage. Descriptors
// are defined once at orchestrator initialization and never mutated at
// runtime.
type Descriptor struct {
	// Name identifies the stage in manifests, logs, and cache metadata.
	Name string
	// Predecessor and Successor are stage names; empty means pipeline
	// boundary. Successor doubles as the manifest's next_stage value.
	Predecessor string
	Successor   string
	// Timeout bounds a single execution; expiry counts as stage failure.
	Timeout time.Duration
	// Critical stages abort the job on failure. Non-critical stages are
	// recorded as skipped and the pipeline continues.
	Critical bool
	// Cacheable stages participate in the baseline cache: their declared
	// artifacts are published on success and restored on a hit.
	Cacheable bool
	// Parameterizable stages consult the adaptive optimizer before running.
	Parameterizable bool
	// Artifacts lists the files (relative to the job directory) the stage
	// must produce on success.
	Artifacts []string
}

// TerminalNext is the next_stage sentinel recorded by the final stage.
const TerminalNext = "done"

// NextName returns the manifest next_stage value for this descriptor.
func (d Descriptor) NextName() string {
	if d.Successor == "" {
		return TerminalNext
	}
	return d.Successor
}
