// Package config loads, normalizes, and validates Scribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies SCRIBE_* environment overrides.
// The Config type centralizes every knob the daemon and CLI need: quota
// parameters, file caps, worker concurrency, lease timing, the inference
// engine endpoint, and the storage location are all discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
