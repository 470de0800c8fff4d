package backend

import "strings"

// DefaultNextPath is where a completed sign-in lands when no usable path was requested.
const DefaultNextPath = "/lobby"

// SafeNextPath keeps post-sign-in redirects on the same origin.
// Empty, relative and protocol-relative ("//host") values fall back to DefaultNextPath.
func SafeNextPath(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return DefaultNextPath
	}
	if !strings.HasPrefix(trimmed, "/") {
		return DefaultNextPath
	}
	if strings.HasPrefix(trimmed, "//") {
		return DefaultNextPath
	}
	return trimmed
}
