package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey canonicalizes a part identifier for exact-key lookup:
// NFKC normalization, uppercase, and all separator characters stripped.
// "mcm-4140 rb" and "MCM4140RB" normalize to the same key.
func NormalizeKey(raw string) string {
	folded := norm.NFKC.String(raw)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// Tokenize lowercases, NFKC-normalizes, and splits text into search tokens,
// dropping single-character fragments and stop words.
func Tokenize(text string) []string {
	folded := strings.ToLower(norm.NFKC.String(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if len(f) < 2 || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

var stopWords = map[string]bool{
	"of": true, "the": true, "and": true, "for": true, "with": true,
	"qty": true, "per": true, "each": true, "pcs": true,
}
