// Package stageexec runs a single pipeline stage under its descriptor's
// timeout and drives the manifest transitions around it: start, success,
// skip, or failure, each flushed durably before the next stage begins.
// Criticality decides whether a failure stops the job or degrades it.
package stageexec
