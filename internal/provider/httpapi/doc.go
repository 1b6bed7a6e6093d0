// Package httpapi implements provider.Provider over a small JSON HTTP API and
// doubles as the credential validator used when persisted sessions must be
// re-checked before use.
package httpapi
