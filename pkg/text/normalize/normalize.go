// Package normalize prepares raw request text for chunking and tokenisation.
//
// The rules are deliberately shallow: Unicode compatibility folding, quote and
// dash folding, control-character removal and whitespace collapsing. Phonetic
// rewriting (numbers, abbreviations, pronunciations) belongs to the model's
// tokenizer.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var punctuation = strings.NewReplacer(
	"\u201c", `"`, // left double quote
	"\u201d", `"`, // right double quote
	"\u201e", `"`, // low double quote
	"\u00ab", `"`, // left guillemet
	"\u00bb", `"`, // right guillemet
	"\u2018", "'", // left single quote
	"\u2019", "'", // right single quote
	"`", "'",
	"\u2010", "-", // hyphen (NFKC target of the non-breaking hyphen)
	"\u00ad", "", // soft hyphen
	"\u200b", "", // zero-width space
	"\ufeff", "", // byte order mark
)

// Text returns the normalised form of s. An empty result means s carried
// nothing that can be spoken and the request must be rejected.
func Text(s string) string {
	s = norm.NFKC.String(s)
	s = punctuation.Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		if r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
