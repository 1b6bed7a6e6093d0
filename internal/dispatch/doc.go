// Package dispatch submits segments to the provider in staggered waves.
//
// Segments are split into windows of at most `concurrency` submissions. Inside
// a window each submission starts a little after the previous one; the next
// window starts only after every submission call of the current window has
// returned and a cooldown has elapsed. A successful submission produces a
// pending job that is handed to the register callback immediately, so
// monitoring overlaps with later waves.
//
// Submit retries with exponential backoff, honours Retry-After hints, and
// forces a credential refresh after authentication failures. It is also the
// path the monitor uses to recreate failed operations.
package dispatch
