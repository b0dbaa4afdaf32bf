package chunker

import (
	"slices"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	c := New(WithMaxLength(40))
	tests := []string{
		"Hello world.",
		"  padded, with a clause  ",
		"Hi, there",
		"no punctuation at all",
	}
	for _, in := range tests {
		got := c.Chunks(in)
		if len(got) != 1 || got[0] != strings.TrimSpace(in) {
			t.Errorf("Chunks(%q) = %q, want single trimmed chunk", in, got)
		}
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	c := New()
	for _, in := range []string{"", "   ", "\n\t"} {
		if got := c.Chunks(in); len(got) != 0 {
			t.Errorf("Chunks(%q) = %q, want none", in, got)
		}
	}
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	c := New(WithMaxLength(30))
	got := c.Chunks("First sentence here. Second one, with a clause follows.")
	want := []string{"First sentence here.", "Second one,", "with a clause follows."}
	if !slices.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSplit_ClauseBeforeWhitespace(t *testing.T) {
	c := New(WithMaxLength(20))
	got := c.Chunks("alpha beta; gamma delta epsilon")
	if got[0] != "alpha beta;" {
		t.Errorf("first chunk = %q, want %q", got[0], "alpha beta;")
	}
}

func TestSplit_DoesNotSplitWords(t *testing.T) {
	c := New(WithMaxLength(12))
	for chunk := range c.Split("the quick brown fox jumps over the lazy dog") {
		for _, w := range strings.Fields(chunk) {
			if !strings.Contains("the quick brown fox jumps over the lazy dog", w) {
				t.Errorf("chunk %q contains a broken word %q", chunk, w)
			}
		}
	}
}

func TestSplit_HardCutForLongWord(t *testing.T) {
	c := New(WithMaxLength(5))
	got := c.Chunks("abcdefghijkl")
	want := []string{"abcde", "fghij", "kl"}
	if !slices.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSplit_Invariants(t *testing.T) {
	text := strings.Repeat("The rain in Spain stays mainly in the plain. ", 12) +
		"Über naïve façades, «quotes» — and dashes… then an extraordinarilylongwordwithoutanybreaks!"
	for _, max := range []int{8, 25, 60, 300} {
		c := New(WithMaxLength(max))
		chunks := c.Chunks(text)
		if len(chunks) == 0 {
			t.Fatalf("max=%d: no chunks", max)
		}
		for i, ch := range chunks {
			if strings.TrimSpace(ch) == "" {
				t.Errorf("max=%d: chunk %d is empty", max, i)
			}
			if n := utf8.RuneCountInString(ch); n > max {
				t.Errorf("max=%d: chunk %d has %d runes", max, i, n)
			}
		}
		if got, want := stripSpace(strings.Join(chunks, "")), stripSpace(text); got != want {
			t.Errorf("max=%d: concatenation does not reconstruct the text", max)
		}
	}
}

func TestSplit_Restartable(t *testing.T) {
	c := New(WithMaxLength(15))
	seq := c.Split("One two three. Four five six. Seven eight nine.")
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, second) {
		t.Errorf("second iteration differs: %q vs %q", first, second)
	}
}

func TestSplit_EarlyBreak(t *testing.T) {
	c := New(WithMaxLength(5))
	n := 0
	for range c.Split("aaaa bbbb cccc dddd") {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("iterated %d times, want 2", n)
	}
}

func TestWithMaxLength_IgnoresNonPositive(t *testing.T) {
	if got := New(WithMaxLength(0)).MaxLength(); got != DefaultMaxLength {
		t.Errorf("MaxLength = %d, want %d", got, DefaultMaxLength)
	}
}
