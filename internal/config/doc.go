// Package config loads and validates the subforge TOML configuration.
//
// Loading is tolerant: a missing file yields defaults, and every subsystem
// (cache, similarity, optimizer, terms) has an independent enable switch so
// operators can turn any of them off without affecting the rest of the
// pipeline.
package config
