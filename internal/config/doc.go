// Package config loads the daemon configuration from JSON, YAML or TOML,
// overlays SCHEDD_* environment variables and hot-reloads on file change.
//
// Decoding is strict: unknown keys are rejected in every format, so typos
// surface on reload instead of silently reverting to defaults.
package config
