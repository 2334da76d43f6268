// Package logging constructs the application's slog loggers and provides the
// attr helpers and context plumbing used across the orchestrator.
//
// Two output formats exist: a compact console format for interactive use and
// JSON for log aggregation. Job and stage identity travel via context so any
// component logging inside a stage automatically carries job_id and stage.
package logging
