package tgui

import "unicode/utf8"

const ellipsis = "…"

// Clip shortens s to at most limit runes, the ellipsis included. Telegram
// rejects command descriptions and answers over their length caps instead of
// cutting them.
func Clip(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit == 1 {
		return ellipsis
	}
	n := 0
	for i := range s {
		if n == limit-1 {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}
