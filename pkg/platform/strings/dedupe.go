// Package strings holds the small text cleanups applied to seeded and
// configured values.
package strings

import (
	"strings"
)

// CollapseSpace trims s and reduces each inner whitespace run to one space,
// so "  Claire \t Dupont " becomes "Claire Dupont".
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// UniqueLower lowercases and collapses every value, then drops blanks and
// repeats. First occurrences keep their order. Nil when nothing survives.
func UniqueLower(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(CollapseSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
