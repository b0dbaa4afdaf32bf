// Package model defines the boundary between the synthesis orchestrator and
// the neural inference backend.
//
// The backend is an opaque capability consumed through two operations:
// Tokenize turns one chunk of text into phonemes and token IDs, and Generate
// turns token IDs plus a speaker embedding into a waveform. Everything else
// (chunking, stitching, normalisation, encoding) happens on this side of the
// boundary.
//
// Backends live in sub-packages (remote, exec, mock) and are selected by name
// through the config registry. Implementations must be safe for concurrent use.
package model

import (
	"context"
	"errors"

	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// ErrUnavailable may be wrapped by backends when the inference service cannot
// be reached at all, as opposed to failing on one input.
var ErrUnavailable = errors.New("model: backend unavailable")

// Tokens is the output of [Provider.Tokenize].
type Tokens struct {
	// Phonemes is the phoneme string the IDs were derived from. Informational.
	Phonemes string

	// IDs are the model input tokens for one chunk.
	IDs []int
}

// Provider is the abstraction over an inference backend.
type Provider interface {
	// Tokenize converts text into model tokens. lang is the language code
	// derived from the first character of the voice name (e.g. 'a' for
	// American English voices such as "af_bella").
	//
	// An error fails only the chunk being processed.
	Tokenize(ctx context.Context, text string, lang rune) (Tokens, error)

	// Generate synthesises a waveform for ids spoken by emb at the given speed
	// factor (1.0 = natural). emb is shared and must not be modified.
	//
	// An empty buffer with a nil error means the model produced no audio; the
	// caller treats that as a soft failure and skips the chunk.
	Generate(ctx context.Context, ids []int, emb *voice.Embedding, speed float64) (audio.Buffer, error)
}

// Releaser is implemented by backends that hold reclaimable accelerator
// memory. ReleaseResources is called once after every unit of synthesis work.
type Releaser interface {
	ReleaseResources(ctx context.Context) error
}

// Pinger is implemented by backends that can report their own readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LangFromVoice returns the language code for a voice name: its first rune,
// or 'a' for an empty name.
func LangFromVoice(name string) rune {
	for _, r := range name {
		return r
	}
	return 'a'
}
