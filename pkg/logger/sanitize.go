package logger

import (
	"strings"
)

// RedactedSecret returns a fixed-length preview of a secret suitable
// for logging: the first four characters followed by a mask. Secrets
// must never appear in plaintext in any log line.
func RedactedSecret(secret string) string {
	if len(secret) < 8 {
		return "[REDACTED]"
	}
	return secret[:4] + strings.Repeat("*", 8)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"password": true,
		"token":    true,
		"secret":   true,
		"api_key":  true,
		"apikey":   true,
		"email":    true,
		"apitoken": true,
		"auth":     true,
		"csrf":     true,
	}

	query := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
