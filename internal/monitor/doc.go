// Package monitor watches submitted jobs until they reach a terminal state.
//
// Each job gets its own goroutine that waits an initial delay, polls the
// provider on a fixed interval, downloads the artifact once the operation is
// done, and recreates the operation a bounded number of times when the
// provider reports it failed or lost. A job that exhausts its poll budget is
// marked timed_out; Reconcile gives such a job one more look before assembly.
//
// Monitoring is deliberately not rate limited: Fleet starts a watcher for every
// job the dispatcher registers and Wait joins them all.
package monitor
