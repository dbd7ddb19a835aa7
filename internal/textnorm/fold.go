// Package textnorm folds free text typed in chat so it can be matched against
// fixed Spanish keywords regardless of case or accents.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips combining accents and trims surrounding space.
// "Miércoles " becomes "miercoles".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Words splits folded text into alphanumeric words.
func Words(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContainsWord reports whether any word of s equals one of the folded keywords.
func ContainsWord(s string, keywords ...string) bool {
	words := Words(s)
	for _, kw := range keywords {
		kw = Fold(kw)
		for _, w := range words {
			if w == kw {
				return true
			}
		}
	}
	return false
}
