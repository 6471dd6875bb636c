package util

import (
	"strings"
	"unicode/utf8"
)

// Truncate cuts s to at most limit bytes without splitting a rune. It reports
// whether anything was removed. A non-positive limit disables truncation.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

// TruncateMarked is Truncate with a trailing marker appended when s was cut.
func TruncateMarked(s string, limit int) string {
	out, cut := Truncate(s, limit)
	if cut {
		return strings.TrimRight(out, "\n") + "\n...[truncated]"
	}
	return out
}
