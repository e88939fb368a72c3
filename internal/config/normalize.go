package config

import (
	"regexp"
	"strings"
)

const DefaultSessionPart = "default"

var (
	validPartRe  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingDash  = regexp.MustCompile(`^-+`)
	trailingDash = regexp.MustCompile(`-+$`)
)

// NormalizePart converts a user-provided identifier (user name, project
// name) into a valid session-key component:
//   - Lowercase, max 64 chars
//   - Only [a-z0-9_-] allowed
//   - Invalid chars replaced with "-"
//   - Leading/trailing dashes stripped
//   - Empty result defaults to "default"
func NormalizePart(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultSessionPart
	}

	lower := strings.ToLower(trimmed)
	if validPartRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")

	if len(result) > 64 {
		result = result[:64]
	}

	if result == "" {
		return DefaultSessionPart
	}
	return result
}

// SessionKey builds the canonical (user, project) session key.
func SessionKey(user, project string) string {
	return NormalizePart(user) + ":" + NormalizePart(project)
}
