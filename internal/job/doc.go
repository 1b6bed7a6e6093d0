// Package job holds the per-segment job record and its state machine.
//
// A Job starts pending once the provider accepts a submission and moves to
// exactly one of completed, failed, or timed_out. Recreation swaps the
// provider operation id in place and is bounded by the caller's limit. The
// only transition out of a terminal state is a late completion adopted by
// reconciliation of a timed_out job.
package job
