// Package voice defines speaker embeddings and the directory-backed store that
// holds them.
//
// An [Embedding] is a dense float32 tensor. Each voice lives in its own file,
// <dir>/<name><ext>, in the format read and written by [Read] and [Write].
// Combined voices are written back into the same store and are
// indistinguishable from primary voices afterwards.
package voice

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
)

// ErrNotFound is returned when a named voice has no embedding file. It
// matches [fs.ErrNotExist] as well, so callers may test for either.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string        { return "voice: not found" }
func (notFoundError) Is(target error) bool { return target == fs.ErrNotExist }

// Embedding is a speaker embedding tensor in row-major order.
//
// Embeddings handed out by the store or a cache are shared between requests
// and must be treated as read-only. Use [Embedding.Clone] before modifying.
type Embedding struct {
	Shape []int
	Data  []float32
}

// Size returns the number of elements implied by Shape.
func (e *Embedding) Size() int {
	if len(e.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range e.Shape {
		n *= d
	}
	return n
}

// Validate reports whether e is a well-formed tensor.
func (e *Embedding) Validate() error {
	if e == nil {
		return errors.New("voice: nil embedding")
	}
	if len(e.Shape) == 0 {
		return errors.New("voice: embedding has no shape")
	}
	for i, d := range e.Shape {
		if d <= 0 {
			return fmt.Errorf("voice: dimension %d has size %d", i, d)
		}
	}
	if got, want := len(e.Data), e.Size(); got != want {
		return fmt.Errorf("voice: shape %v needs %d elements, have %d", e.Shape, want, got)
	}
	return nil
}

// Clone returns a deep copy of e.
func (e *Embedding) Clone() *Embedding {
	return &Embedding{Shape: slices.Clone(e.Shape), Data: slices.Clone(e.Data)}
}

// SameShape reports whether e and o have identical shapes.
func (e *Embedding) SameShape(o *Embedding) bool {
	return slices.Equal(e.Shape, o.Shape)
}
