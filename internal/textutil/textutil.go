// Package textutil shortens free-form model output for one-line display.
package textutil

import (
	"strings"
	"unicode"
)

const ellipsis = "..."

// Shorten collapses runs of whitespace into single spaces and truncates the
// result to at most maxRunes runes, cutting at the last word boundary when
// one exists and marking the cut with "...".
func Shorten(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= len(ellipsis) {
		return ellipsis[:maxRunes]
	}
	cut := maxRunes - len(ellipsis)
	if i := lastSpace(runes[:cut+1]); i > 0 {
		cut = i
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsPunct) + ellipsis
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
