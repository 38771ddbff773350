// Package config loads, normalizes, and validates cutline configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours the CUTLINE_BACKEND environment fallback for the
// backend executable. Timeouts and backoff knobs are stored as integers in
// the file and exposed as time.Duration through accessor methods so callers
// never convert units by hand.
package config
