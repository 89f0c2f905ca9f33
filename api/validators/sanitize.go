package validators

import (
	"strings"
	"unicode/utf8"
)

// SanitizeString trims input, collapses inner whitespace runs and caps the
// result at maxLen runes so multi-byte labels are never cut mid-character.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Join(strings.Fields(input), " ")
	if maxLen <= 0 || utf8.RuneCountInString(cleaned) <= maxLen {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:maxLen]))
}
