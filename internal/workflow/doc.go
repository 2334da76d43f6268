// Package workflow drives queued jobs through the subtitle pipeline. The
// manager computes the media identity, loads or creates the resume
// manifest, consults the baseline cache, selects transcription parameters
// from the optimizer or the similarity index, executes the stage table,
// and feeds completed outcomes back into the learning layers.
package workflow
