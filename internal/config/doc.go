// Package config loads, normalizes, and validates clipweave configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CLIPWEAVE_PROVIDER_TOKEN, optionally seeded from a local .env file. The
// Config type centralizes every knob the CLI and pipeline need: segmentation,
// dispatch waves, polling cadence, credential tiers, and output publishing.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
