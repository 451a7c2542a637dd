package util

import (
	"strings"
	"unicode"
)

// Summarize collapses runs of whitespace into single spaces and caps the
// result at limit characters, replacing the tail with "..." when the text
// is longer. Summaries travel in message bodies and mailbox rows, so the
// cap counts runes, not bytes.
func Summarize(raw string, limit int) string {
	text := strings.Join(strings.Fields(raw), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// TrimText strips surrounding whitespace and caps the result at limit
// characters with a "..." tail. Unlike Summarize it preserves interior
// whitespace, so multi-line bodies stay readable when injected into panes.
func TrimText(raw string, limit int) string {
	text := strings.TrimSpace(raw)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// SanitizeName normalizes a team name for use in paths and agent ids.
// Letters, digits, and "-_." pass through; everything else becomes "-";
// doubled dashes collapse; leading and trailing "-_" are stripped. An
// empty result falls back to "team".
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	out := b.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	out = strings.Trim(out, "-_")
	if out == "" {
		return "team"
	}
	return out
}
