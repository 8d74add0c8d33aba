package util

import (
	"strings"
	"unicode"
)

// DisplaySnippet flattens whitespace and cuts s to at most maxRunes runes.
func DisplaySnippet(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsPrint(r) {
			out = append(out, r)
		}
	}
	if maxRunes > 0 && len(out) > maxRunes {
		return strings.TrimSpace(string(out[:maxRunes])) + "..."
	}
	return string(out)
}
