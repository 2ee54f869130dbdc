// Package config loads, normalizes, and validates clipforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CLIPFORGE_NTFY_TOPIC. Artifact directories that are not configured
// explicitly are derived from paths.data_dir so relocating the data root moves
// uploads, clips, thumbnails, scratch space, logs, and backups together.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
