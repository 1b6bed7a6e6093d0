// Package main hosts the clipweave CLI entrypoint and command graph.
//
// The Cobra-based command tree turns terminal invocations into pipeline runs,
// run ledger queries, credential maintenance, readiness checks, and
// configuration scaffolding. It centralizes configuration resolution, logger
// construction, and runtime wiring (provider client, credential cache, run
// store, event and notification sinks) so subcommands can focus on output.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
