// Package pipeline runs one clipweave request end to end: segment the
// requested duration, describe each segment, dispatch the descriptors to the
// provider in waves, monitor every accepted operation until it finishes, and
// assemble whatever completed into a single ordered output.
//
// A Pipeline is reusable across runs. Each Run gets its own run id, artifact
// directory, dispatcher and monitor fleet; the provider and credential cache
// are shared so a credential refreshed by one run serves the next. Progress is
// persisted to the run store as jobs change state, mirrored to the event
// publisher, and summarized in a manifest written next to the artifacts.
package pipeline
