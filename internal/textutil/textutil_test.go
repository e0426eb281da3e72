package textutil

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestShorten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"fits", "short text", 20, "short text"},
		{"exact", "abcde", 5, "abcde"},
		{"collapses whitespace", "line one\n\n  line\ttwo", 40, "line one line two"},
		{"word boundary", "the quick brown fox jumps", 15, "the quick..."},
		{"no boundary", "supercalifragilistic", 10, "superca..."},
		{"trailing punctuation", "first, second third", 12, "first..."},
		{"multibyte", "日本語のテキストです", 6, "日本語..."},
		{"tiny max", "abcdef", 2, ".."},
		{"zero max", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Shorten(tt.in, tt.max))
		})
	}
}

func TestShortenNeverExceedsLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		n := rapid.IntRange(0, 80).Draw(t, "n")
		out := Shorten(s, n)
		if utf8.RuneCountInString(out) > n {
			t.Fatalf("Shorten(%q, %d) = %q is longer than %d runes", s, n, out, n)
		}
	})
}
