// Package basecache is the content-addressed baseline artifact cache.
//
// Entries are keyed by (media identity, config fingerprint) and hold the
// artifacts of the expensive early stages (extraction, segmentation,
// transcription) together with per-artifact SHA256 checksums. A lookup
// verifies every checksum before reporting a hit; corruption silently
// degrades to a miss and the stale entry is dropped. Publication copies into
// a staging directory and renames it into place, so readers never observe a
// partial entry and concurrent writers to the same key resolve
// last-writer-wins.
//
// Eviction runs opportunistically after each store: TTL-expired entries go
// first, then oldest entries until the configured size budget and a
// free-space floor are satisfied. Cross-process pruning is serialized with a
// file lock.
package basecache
