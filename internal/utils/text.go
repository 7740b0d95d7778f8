// internal/utils/text.go
package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies NFKC normalization and collapses runs of whitespace
// to single spaces. Scraped pages carry non-breaking and narrow spaces
// inside numbers; folding them first keeps digit extraction simple.
func NormalizeText(s string) string {
	folded := norm.NFKC.String(s)
	fields := strings.FieldsFunc(folded, unicode.IsSpace)
	return strings.Join(fields, " ")
}

// DigitsOnly returns the digits of s after normalization, dropping
// everything else (currency symbols, separators, units).
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range NormalizeText(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LeadingDigits returns the first run of digits in s after normalization,
// or the empty string when s contains none.
func LeadingDigits(s string) string {
	normalized := NormalizeText(s)
	start := -1
	for i, r := range normalized {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return normalized[start:i]
		}
	}
	if start >= 0 {
		return normalized[start:]
	}
	return ""
}
