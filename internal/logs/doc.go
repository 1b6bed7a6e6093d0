// Package logs tails the clipweave log file for the `clipweave logs` command.
//
// Tail returns the last N lines (optionally only those stamped with one run
// id) together with the byte offset to resume from, and Follow keeps reading
// from that offset until the context ends. Reads are line-bounded so memory
// stays flat regardless of log size.
package logs
