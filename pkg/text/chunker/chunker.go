// Package chunker splits normalised text into bounded-length pieces that a
// synthesis model can handle in one call.
//
// Breaks are placed at the last boundary that keeps a chunk within the
// configured maximum length, preferring, in order:
//
//  1. sentence ends (. ! ? …) followed by whitespace or end of text
//  2. clause marks (, ; : — – ) followed by whitespace
//  3. any whitespace
//  4. a hard cut at the maximum length, used only when a single word does not
//     fit into the window
//
// Chunks are trimmed; whitespace-only remainders are dropped, so a chunk is
// never empty. Concatenating the chunks of a text reproduces the text up to
// whitespace at the split points.
package chunker

import (
	"iter"
	"slices"
	"strings"
	"unicode"
)

// DefaultMaxLength is the default upper bound on chunk length, in runes.
const DefaultMaxLength = 300

// Option configures a [Chunker].
type Option func(*Chunker)

// WithMaxLength sets the maximum chunk length in runes. Values below 1 are
// ignored.
func WithMaxLength(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxLen = n
		}
	}
}

// Chunker splits text into chunks. The zero value is not usable; call [New].
// A Chunker is immutable and safe for concurrent use.
type Chunker struct {
	maxLen int
}

// New returns a Chunker with the given options applied.
func New(opts ...Option) *Chunker {
	c := &Chunker{maxLen: DefaultMaxLength}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MaxLength returns the configured maximum chunk length in runes.
func (c *Chunker) MaxLength() int { return c.maxLen }

// Split returns a lazy sequence of the chunks of text. Every range over the
// returned sequence scans text again from the start and yields the same
// chunks.
func (c *Chunker) Split(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		runes := []rune(strings.TrimRightFunc(text, unicode.IsSpace))
		pos := skipSpace(runes, 0)
		for pos < len(runes) {
			end := c.cut(runes, pos)
			if chunk := strings.TrimSpace(string(runes[pos:end])); chunk != "" {
				if !yield(chunk) {
					return
				}
			}
			pos = skipSpace(runes, end)
		}
	}
}

// Chunks returns all chunks of text at once.
func (c *Chunker) Chunks(text string) []string {
	return slices.Collect(c.Split(text))
}

// cut returns the exclusive end index of the chunk starting at pos.
func (c *Chunker) cut(runes []rune, pos int) int {
	limit := pos + c.maxLen
	if limit >= len(runes) {
		return len(runes)
	}
	if i := lastBoundary(runes, pos, limit, isSentenceEnd); i > 0 {
		return i
	}
	if i := lastBoundary(runes, pos, limit, isClauseMark); i > 0 {
		return i
	}
	// A space at runes[limit] means the window ends exactly on a word.
	for i := limit; i > pos; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return limit
}

// lastBoundary returns the index just past the last rune r in
// runes[pos:limit] for which match(r) holds and the next rune is whitespace
// or the end of text. It returns -1 if there is none.
func lastBoundary(runes []rune, pos, limit int, match func(rune) bool) int {
	for i := limit - 1; i >= pos; i-- {
		if !match(runes[i]) {
			continue
		}
		if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	return -1
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isClauseMark(r rune) bool {
	switch r {
	case ',', ';', ':', '—', '–', ')':
		return true
	}
	return false
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}
