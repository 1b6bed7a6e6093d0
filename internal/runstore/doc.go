// Package runstore persists run history in SQLite.
//
// Each run gets a row in runs with its parameters, final status, and the
// manifest JSON; each segment gets a row in segments that the pipeline
// updates as jobs are submitted, recreated, and finished. The CLI reads the
// ledger for `clipweave runs list` and `clipweave runs show`. Runs left in the
// running state by a crashed process are marked interrupted on open.
package runstore
