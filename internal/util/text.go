package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeSpaces collapses every whitespace run (unicode-aware, so NBSP counts)
// to a single space and trims the ends.
func NormalizeSpaces(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// NormalizeName produces the stored form of a member name: NFC, single-spaced,
// trimmed, upper-cased.
func NormalizeName(input string) string {
	return strings.ToUpper(NormalizeSpaces(norm.NFC.String(input)))
}

// DigitsOnly drops every rune that is not an ASCII decimal digit.
func DigitsOnly(input string) string {
	out := strings.Builder{}
	for _, r := range input {
		if r >= '0' && r <= '9' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

// HeaderKey lower-cases a column header and removes its spaces so that
// "Nro DNI " and "nrodni" compare equal.
func HeaderKey(input string) string {
	s := strings.ToLower(norm.NFC.String(input))
	s = strings.ReplaceAll(s, " ", "")
	return strings.TrimSpace(s)
}

// Slug maps an arbitrary identifier to a filesystem-safe token.
func Slug(input string) string {
	out := strings.Builder{}
	for _, r := range strings.TrimSpace(input) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	return out.String()
}
