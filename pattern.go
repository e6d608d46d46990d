package crossbar

import "strings"

// isWildcard reports whether a pattern contains a `*` or `>` segment and
// therefore needs segment-wise matching rather than a literal comparison.
func isWildcard(pattern string) bool {
	return strings.ContainsRune(pattern, '*') || strings.ContainsRune(pattern, '>')
}

// matchPattern implements the §4.4 segmented matching rules. `*` matches
// exactly one non-empty segment; `>` matches one or more trailing segments
// and is only legal as the final pattern segment. The function is pure and
// allocates nothing; callers pass segments produced by splitSegments. The
// callers in bus.go match at subscribe time and at channel creation, never
// per publish.
func matchPattern(patternSegments, nameSegments []string) bool {
	for i, p := range patternSegments {
		if p == ">" {
			// '>' must be the final pattern segment and requires at least
			// one trailing name segment to match.
			return i < len(nameSegments)
		}
		if i >= len(nameSegments) {
			return false
		}
		if p == "*" {
			if nameSegments[i] == "" {
				return false
			}
			continue
		}
		if p != nameSegments[i] {
			return false
		}
	}
	return len(patternSegments) == len(nameSegments)
}

// splitSegments splits a dot-separated name or pattern into its segments.
func splitSegments(s string) []string {
	return strings.Split(s, ".")
}

// MatchPattern is the exported, allocation-light entry point for matching a
// single pattern against a single name. Prefer pre-splitting with
// splitSegments in hot loops that match many names against the same pattern.
func MatchPattern(pattern, name string) bool {
	if !isWildcard(pattern) {
		return pattern == name
	}
	return matchPattern(splitSegments(pattern), splitSegments(name))
}
