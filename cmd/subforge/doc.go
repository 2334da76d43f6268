// Package main hosts the subforge CLI entrypoint and command graph.
//
// The Cobra-based command tree covers queueing media files, draining the
// queue through the subtitle pipeline, and maintenance of the stores the
// pipeline learns from: the baseline artifact cache, the terminology store,
// and the processing history behind similarity matching. It centralizes
// configuration resolution and structured logging setup so subcommands can
// focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
