// Package manifest persists per-job stage execution history to a JSON file
// stored alongside the job's outputs.
//
// Every transition is flushed with temp-file-then-rename before the next
// stage begins, so an interrupted job resumes exactly where it stopped. A
// manifest that fails to parse is treated as absent: the job restarts from
// scratch with a warning rather than failing.
package manifest
