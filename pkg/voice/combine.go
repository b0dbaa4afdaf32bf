package voice

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// NameSeparator joins source names into a combined voice name.
const NameSeparator = "_"

// DefaultMaxNameLength bounds combined voice names, in bytes.
const DefaultMaxNameLength = 128

// hashSuffixLen is the length of "-" plus 8 hex digits.
const hashSuffixLen = 9

// MinNameLength is the smallest bound [CombinedName] honours: the hash suffix
// plus a few bytes of the source names.
const MinNameLength = 16

// ErrTooFew is returned by [Combine] when given fewer than two embeddings.
var ErrTooFew = errors.New("voice: at least two voices are required")

// Combine returns the element-wise mean of embs. All embeddings must share one
// shape. The inputs are not modified.
func Combine(embs ...*Embedding) (*Embedding, error) {
	if len(embs) < 2 {
		return nil, ErrTooFew
	}
	for i, e := range embs {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("voice: combine input %d: %w", i, err)
		}
		if !e.SameShape(embs[0]) {
			return nil, fmt.Errorf("voice: combine input %d: shape %v does not match %v", i, e.Shape, embs[0].Shape)
		}
	}

	sum := make([]float64, len(embs[0].Data))
	for _, e := range embs {
		for i, v := range e.Data {
			sum[i] += float64(v)
		}
	}
	out := &Embedding{Shape: append([]int(nil), embs[0].Shape...), Data: make([]float32, len(sum))}
	n := float64(len(embs))
	for i, v := range sum {
		out.Data[i] = float32(v / n)
	}
	return out, nil
}

// CombinedName joins names with [NameSeparator]. A result longer than maxLen
// bytes is truncated and suffixed with "-" and the first 8 hex digits of the
// SHA-256 of the full joined name, so the name stays a valid file stem while
// distinct inputs still map to distinct names. maxLen <= 0 disables the bound;
// a positive maxLen below [MinNameLength] is raised to it.
func CombinedName(names []string, maxLen int) string {
	joined := strings.Join(names, NameSeparator)
	if maxLen <= 0 || len(joined) <= maxLen {
		return joined
	}
	maxLen = max(maxLen, MinNameLength)
	if len(joined) <= maxLen {
		return joined
	}
	sum := sha256.Sum256([]byte(joined))
	suffix := "-" + hex.EncodeToString(sum[:4])

	keep := max(maxLen-hashSuffixLen, 0)
	for keep > 0 && !utf8.RuneStart(joined[keep]) {
		keep--
	}
	return joined[:keep] + suffix
}
