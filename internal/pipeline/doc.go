// Package pipeline implements the six stage handlers: audio extraction,
// silence-based segmentation, transcription, translation, subtitle
// assembly, and remuxing. External collaborators (ffmpeg, ffprobe, the
// configured transcriber and translator commands) run through a swappable
// command runner so the handlers stay testable without the tools installed.
//
// The stage table in descriptors.go fixes ordering, timeouts, criticality,
// cacheability, and declared artifacts for the whole pipeline.
package pipeline
