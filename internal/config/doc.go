// Package config defines the server configuration structure.
//
// The configuration is immutable after startup; only the log level may
// be adjusted at runtime via config reload.
package config
