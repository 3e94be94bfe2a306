// Package config loads, normalizes, and validates voxpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and resolves provider credentials from the
// config file, the GROQ_API_KEY / OPENAI_API_KEY environment variables, or an
// optional dotenv file. The Config type centralizes every knob the watcher,
// the dispatch commands and the remote daemon need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
