package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxNameRunes = 16
	DefaultName  = "Player"
)

// ClampName normalizes a requested display name: NFC, no control characters, surrounding
// space trimmed, at most MaxNameRunes runes. An empty result falls back to DefaultName.
func ClampName(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > MaxNameRunes {
		s = strings.TrimSpace(string(r[:MaxNameRunes]))
	}
	if s == "" {
		return DefaultName
	}
	return s
}
