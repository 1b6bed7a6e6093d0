// Package credential provides the tiered, single-flight credential cache used
// for every provider call.
//
// Lookups walk three tiers: the in-memory entry (valid for a fixed TTL), the
// persisted store, and finally live acquisition through an external harvesting
// command. Concurrent callers share one lookup, and every path into live
// acquisition joins a single shared flight, so at most one harvesting session
// runs at a time. Only live acquisition writes to the store; values read from
// the store are cached in memory with a fresh timestamp but never written back.
//
// A forced refresh marks the current value as rejected. The store may still
// answer a forced refresh when it holds a different value, which lets an
// operator drop a hand-curated credential into place while a run is active.
// Refresh names the value a request was rejected with; when that value has
// already been replaced the replacement is served instead of harvesting again.
// Forced calls that arrive shortly after a completed refresh are answered the
// same way.
package credential
