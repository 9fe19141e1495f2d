// Package textutil holds the string normalizations shared by the extractor,
// the entity resolver and the search layer.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters without a decomposition into an ASCII base letter.
var icelandicLetters = strings.NewReplacer(
	"þ", "th", "Þ", "Th",
	"ð", "d", "Ð", "D",
	"æ", "ae", "Æ", "Ae",
	"ø", "o", "Ø", "O",
)

var dashes = strings.NewReplacer(
	"‐", "-", // hyphen
	"‑", "-", // non-breaking hyphen
	"‒", "-", // figure dash
	"–", "-", // en dash
	"—", "-", // em dash
	"−", "-", // minus sign
)

// Fold removes diacritics and transliterates Icelandic letters to ASCII.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, icelandicLetters.Replace(s))
	if err != nil {
		return s
	}
	return out
}

// Slug lowercases and folds s, replacing every run of non alphanumeric
// characters with a single dash.
func Slug(s string) string {
	folded := strings.ToLower(Fold(s))
	var b strings.Builder
	b.Grow(len(folded))
	dash := false
	for _, r := range folded {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// NormalizeDashes maps typographic dash variants to an ASCII hyphen.
func NormalizeDashes(s string) string {
	return dashes.Replace(s)
}

// EqualFold compares two strings ignoring case and dash variants.
func EqualFold(a, b string) bool {
	return strings.EqualFold(NormalizeDashes(a), NormalizeDashes(b))
}
