package scraper

import (
	"strings"
	"unicode"
)

const nbsp = '\u00a0'

// cleanText removes non-breaking spaces and control characters, then trims.
func cleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == nbsp || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// cleanLabel is cleanText for multi-word labels: non-breaking spaces become word
// separators and runs of whitespace collapse to one space.
func cleanLabel(s string) string {
	s = strings.ReplaceAll(s, string(nbsp), " ")
	return strings.Join(strings.Fields(cleanText(s)), " ")
}

// isSpacer reports whether a raw cell holds nothing but non-breaking spaces.
// Upstream uses such cells as layout padding, unlike a genuinely empty value.
func isSpacer(raw string) bool {
	return strings.ContainsRune(raw, nbsp) && cleanText(raw) == ""
}

// isDay reports whether s is a two-digit day of month, 01 through 31
func isDay(s string) bool {
	if len(s) != 2 || s[0] < '0' || s[0] > '3' || s[1] < '0' || s[1] > '9' {
		return false
	}
	return s != "00" && s <= "31"
}
