// Package services defines shared utilities consumed by the pipeline phases and
// their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, phase names, segment indices, and
//     provider operation IDs for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure messages
//     consistent and classifiable with errors.Is.
//
// Use these helpers when wiring new pipeline code so log lines and error text
// stay uniform across phases.
package services
