// Package config loads, normalizes, and validates Lectern's TOML configuration.
//
// Load resolves the config path (explicit flag, ~/.config/lectern/config.toml,
// then ./lectern.toml), decodes it over Default(), expands paths, applies
// environment fallbacks for provider keys, and validates the result. The
// pipeline weight table is merged over DefaultWeights so a file may override
// individual stages.
package config
