// Package identity computes content-derived media fingerprints.
//
// The identity is built from decoded, normalized audio windows (16 kHz mono
// s16le) sampled at the start, middle, and end of the stream, so it is stable
// across container rewraps, renames, and metadata edits. It intentionally
// does not survive lossy re-encoding of the audio samples themselves; the
// similarity index covers that case with parameter-level reuse.
package identity
