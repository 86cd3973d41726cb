// Package logger provides structured logging for kvmesh.
package logger

import "log/slog"

// redactedValue replaces sensitive attribute values in log output.
const redactedValue = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach log output.
var sensitiveKeys = map[string]bool{
	"encryption_key": true,
	"key_material":   true,
	"secret":         true,
}

// redactSensitive redacts key material from log attributes.
func redactSensitive(a slog.Attr) slog.Attr {
	if sensitiveKeys[a.Key] {
		return slog.String(a.Key, redactedValue)
	}
	return a
}
