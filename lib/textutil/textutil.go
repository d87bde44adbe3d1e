package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

var bracketReplacer = strings.NewReplacer(
	"【", "[", "】", "]",
	"（", "(", "）", ")",
	"：", ":", "，", ",",
)

// NormalizeName lowercases a listing title, folds full-width punctuation
// and drops all whitespace (including ideographic spaces).
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = bracketReplacer.Replace(name)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
}

func ContainsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// MatchName reports whether the normalized name contains any of the
// (already normalized) matchers.
func MatchName(name string, matchers []string) bool {
	return ContainsAny(NormalizeName(name), matchers...)
}

var nonNumeric = regexp.MustCompile(`[^\d.]`)

func NumericOnly(s string) string {
	return nonNumeric.ReplaceAllString(s, "")
}

// Truncate cuts s to at most n runes, used to keep log lines bounded.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
