// Package services defines the error taxonomy shared by the orchestrator and
// the external stage collaborators, plus context helpers used to thread job
// and stage identity through logging.
//
// Errors are classified by wrapping with sentinel markers so callers can make
// policy decisions with errors.Is: only ErrMediaUnreadable and
// ErrConfiguration abort a job outright; cache and manifest corruption
// degrade to regeneration; stage failures abort only when the failing stage
// is marked critical in its descriptor.
package services
