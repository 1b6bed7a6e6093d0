// Package provider defines the contract clipweave uses to talk to a remote
// clip generation service, together with the error taxonomy callers branch on.
//
// Implementations map transport failures onto the sentinel errors below so
// that the dispatcher and monitor can decide between refreshing the
// credential, backing off, recreating the operation, or giving up. Some
// services report expired sessions only in free-form text; IsAuth also
// recognises those messages.
package provider
