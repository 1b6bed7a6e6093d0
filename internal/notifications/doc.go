// Package notifications delivers run summaries via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled. Each
// message kind can be switched off independently through the
// [notifications] section.
package notifications
