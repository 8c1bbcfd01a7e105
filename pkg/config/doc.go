// Package config provides environment-based configuration loading with
// per-type caching.
//
// Configuration structs declare their environment bindings via `env` field
// tags. Load parses the environment (and an optional .env file) into the
// struct exactly once per type; later calls return the cached value, which
// keeps configuration immutable for the lifetime of the process.
package config
