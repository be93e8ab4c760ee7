package store

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxNameRunes = 100

// Fallback names for blank input.
const (
	FallbackTitle  = "untitled"
	FallbackArtist = "unknown_band"
)

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
	reserved    = map[string]struct{}{
		"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
		"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
		"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
	}
)

// SanitizeName makes s safe as a single path element on common file systems.
// Whitespace runs collapse to one space, unsafe and control characters become
// underscores, leading and trailing dots and spaces are trimmed and the result
// is capped at 100 runes. The mapping is deterministic.
func SanitizeName(s, fallback string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ". ")
	if utf8.RuneCountInString(s) > maxNameRunes {
		s = strings.TrimRight(string([]rune(s)[:maxNameRunes]), ". ")
	}
	if s == "" {
		return fallback
	}
	if _, bad := reserved[strings.ToUpper(s)]; bad {
		s += "_"
	}
	return s
}
