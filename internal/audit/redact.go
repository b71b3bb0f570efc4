// internal/audit/redact.go
package audit

import "strings"

// RedactedMarker replaces any value stored under a sensitive-looking key.
const RedactedMarker = "[REDACTED]"

// TruncatedMarker is appended to oversized string values.
const TruncatedMarker = "...[TRUNCATED]"

// maxValueLen is the longest string value persisted verbatim.
const maxValueLen = 500

// sensitiveFragments are matched case-insensitively against key names.
var sensitiveFragments = []string{"password", "token", "secret", "api_key", "credential", "auth"}

// Sanitize returns a copy of params safe to persist: values under sensitive
// keys are replaced with RedactedMarker, nested maps are sanitized
// recursively, and long string values are truncated.
func Sanitize(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		if isSensitiveKey(key) {
			out[key] = RedactedMarker
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			out[key] = Sanitize(v)
		case string:
			if len(v) > maxValueLen {
				out[key] = v[:maxValueLen] + TruncatedMarker
			} else {
				out[key] = v
			}
		default:
			out[key] = value
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
