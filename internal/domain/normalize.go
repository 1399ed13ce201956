package domain

import (
	"strings"
)

// NormalizeText returns the normalized form of a word used for uniqueness of
// active entries: trimmed, lowercased, with every whitespace run collapsed to
// a single space. Diacritics, hyphens, and apostrophes are preserved.
func NormalizeText(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(fields, " "))
}
