// Package logger provides structured logging for kvmesh.
//
// It wraps the standard library log/slog to provide structured JSON
// logging with automatic redaction of key material, plus dynamic log
// level adjustment for runtime config reloads.
package logger
