// Package ingest loads delimited and spreadsheet files into chunked sources:
// headers are normalized to safe column keys, rows are bucketed into
// fixed-size chunks, and a sample of the head is profiled to guess column
// types.
package ingest

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeKey turns a raw header cell into a safe column key: lowercase,
// diacritics stripped, everything outside [a-z0-9] collapsed to single
// underscores. An empty result falls back to "col".
func NormalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	// Decompose, drop nonspacing marks, recompose.
	if folded, _, err := transform.String(asciiFold, s); err == nil {
		s = folded
	}

	var b strings.Builder
	prevUnderscore := true // suppress a leading underscore
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.' || r == '/':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.TrimSuffix(b.String(), "_")
	if name == "" {
		return "col"
	}
	return name
}

// HeaderKeys normalizes a header row and deduplicates collisions by suffixing
// _2, _3, and so on in column order.
func HeaderKeys(header []string) []string {
	keys := make([]string, len(header))
	seen := map[string]int{}
	for i, h := range header {
		key := NormalizeKey(h)
		seen[key]++
		if n := seen[key]; n > 1 {
			key = fmt.Sprintf("%s_%d", key, n)
			seen[key]++
		}
		keys[i] = key
	}
	return keys
}
