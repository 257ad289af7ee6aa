package reconcile

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultMatchDelimiter splits the stable prefix off a display name.
// Cross-system titles differ in suffixes ("Client X - Phase 2" vs "Client X")
// but share a prefix that works as a join key when no shared ID exists.
const DefaultMatchDelimiter = " - "

// NormalizeKey derives a MatchKey from a record display name: substring
// before the first delimiter (whole string when absent), whitespace
// stripped, lowercased. Total and pure; empty input yields an empty key.
func NormalizeKey(displayName string) string {
	return NormalizeKeyWithDelimiter(displayName, DefaultMatchDelimiter)
}

func NormalizeKeyWithDelimiter(displayName string, delimiter string) string {
	if delimiter == "" {
		delimiter = DefaultMatchDelimiter
	}
	s := displayName
	if idx := strings.Index(s, delimiter); idx >= 0 {
		s = s[:idx]
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Accepted quote numbers follow PROJECTCODE-QUOTENUMBER-VERSION, e.g.
// "ACME01-105-1". Anything else is reported as an invalid-format issue
// rather than fed through as a silently wrong key.
var quoteNumberPattern = regexp.MustCompile(`^([A-Za-z0-9]+)-(\d+)-(\d+)$`)

var digitsPattern = regexp.MustCompile(`\d+`)

type QuoteNumberParts struct {
	ProjectCode string
	Number      string
	Version     string
}

// ParseQuoteNumber validates a structured quote number against the fixed
// grammar. ok=false means the reference does not follow the convention.
func ParseQuoteNumber(quoteNumber string) (QuoteNumberParts, bool) {
	m := quoteNumberPattern.FindStringSubmatch(strings.TrimSpace(quoteNumber))
	if m == nil {
		return QuoteNumberParts{}, false
	}
	return QuoteNumberParts{
		ProjectCode: strings.ToUpper(m[1]),
		Number:      m[2],
		Version:     m[3],
	}, true
}

// ExpectedQuoteNumber recomputes the compliant quote number for a deal's
// project code. The sequential part is recovered from the current number
// when present; version resets to 1.
func ExpectedQuoteNumber(projectCode string, currentNumber string) string {
	sequence := "1"
	if parts, ok := ParseQuoteNumber(currentNumber); ok {
		sequence = parts.Number
	} else if m := digitsPattern.FindString(currentNumber); m != "" {
		sequence = m
	}
	return fmt.Sprintf("%s-%s-1", strings.ToUpper(strings.TrimSpace(projectCode)), sequence)
}
