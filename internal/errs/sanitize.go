package errs

import "strings"

// sensitiveFields contains payload field names whose values are masked
// before logging. Telemetry for auth endpoints routinely carries secrets.
var sensitiveFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"credentials":   true,
	"authorization": true,
	"cookie":        true,
	"session_id":    true,
}

// MaskedValue is the string used to replace sensitive values.
const MaskedValue = "[REDACTED]"

// IsSensitiveField checks if a payload field name is sensitive.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	if sensitiveFields[lower] {
		return true
	}
	for s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskPayload returns a copy of a payload map with sensitive values masked.
// Nested maps are masked recursively. Safe to pass to slog.
func MaskPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	masked := make(map[string]any, len(payload))
	for k, v := range payload {
		switch {
		case IsSensitiveField(k):
			masked[k] = MaskedValue
		default:
			if nested, ok := v.(map[string]any); ok {
				masked[k] = MaskPayload(nested)
			} else {
				masked[k] = v
			}
		}
	}
	return masked
}
