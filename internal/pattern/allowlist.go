package pattern

import (
	"strings"
)

// Matches decides whether path is covered by an already-expanded allowlist
// pattern. This is intentionally not full glob semantics: a trailing "*"
// means prefix-or-substring match across path components; anything else is a
// plain substring match against the whole path. Authorization classification
// depends on exactly this rule — do not generalize it to a real glob matcher.
func Matches(path, expandedPattern string) bool {
	if strings.HasSuffix(expandedPattern, "*") {
		prefix := strings.TrimSuffix(expandedPattern, "*")
		if prefix == "" {
			return true
		}
		for _, component := range strings.Split(path, "/") {
			if strings.HasPrefix(component, prefix) {
				return true
			}
		}
		return strings.Contains(path, prefix)
	}
	return strings.Contains(path, expandedPattern)
}

// MatchesAny reports whether path matches any pattern in patterns.
func MatchesAny(path string, patterns []string) bool {
	for _, p := range patterns {
		if Matches(path, p) {
			return true
		}
	}
	return false
}
