// Package security provides credential masking, read-only enforcement and
// the order audit trail.
package security

import (
	"regexp"
	"strings"
)

// Patterns for credentials embedded in free text such as broker error
// messages or request URLs.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|access[_-]?token|request[_-]?token|password|totp[_-]?secret)([=:]\s*)["']?([^\s"'&]+)["']?`),
	regexp.MustCompile(`(?i)(token\s+)([A-Za-z0-9]{6,}:[A-Za-z0-9]{16,})`),
}

// sensitiveFields contains field names whose values are always masked.
var sensitiveFields = map[string]bool{
	"api_key":       true,
	"api_secret":    true,
	"access_token":  true,
	"request_token": true,
	"request_url":   true,
	"password":      true,
	"totp_secret":   true,
	"bot_token":     true,
}

// IsSensitiveField reports whether a field name holds a credential.
func IsSensitiveField(field string) bool {
	return sensitiveFields[strings.ToLower(field)]
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSensitive masks credential values embedded in free text, keeping the
// key so the message stays readable.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range credentialPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			sub := pattern.FindStringSubmatch(match)
			if len(sub) < 3 {
				return MaskCredential(match)
			}
			secret := sub[len(sub)-1]
			return strings.Replace(match, secret, MaskCredential(secret), 1)
		})
	}
	return result
}

// ContainsSensitiveData checks if a string contains credential patterns.
func ContainsSensitiveData(input string) bool {
	for _, pattern := range credentialPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}
