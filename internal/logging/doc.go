// Package logging assembles structured slog loggers and formatting helpers used
// across clipweave.
//
// It owns the console and JSON handlers, routes a JSON copy of every record to a
// rotating log file, and exposes context-aware helpers so pipeline code can tag
// log lines with run IDs, segment indices, and provider operation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot fail.
package logging
