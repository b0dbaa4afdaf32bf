// Package encode turns normalised 16-bit PCM chunks into the bytes of a
// container format, one chunk at a time.
//
// Container framing depends on where a chunk sits in a stream. The caller
// supplies a [Position] for every chunk; encoders are stateless and never
// buffer, so every call returns bytes that can be written to the wire
// immediately.
//
//	First        → header (streaming variant if the format needs a length) + payload
//	Middle       → payload only
//	Last         → payload + trailer (if the format has one)
//	First | Last → one complete, self-contained file
package encode

import (
	"fmt"
	"strings"
)

// Position classifies a chunk's place in a stream. It is a bit set: a chunk
// that is both the first and the last of its stream carries First|Last.
type Position uint8

const (
	// Middle is the zero value: the chunk has both a predecessor and a
	// successor.
	Middle Position = 0
	// First marks the chunk that opens the stream.
	First Position = 1 << 0
	// Last marks the chunk that closes the stream.
	Last Position = 1 << 1
)

// PositionFor builds a Position from the two lookahead facts the producer
// knows about a chunk.
func PositionFor(isFirst, isLast bool) Position {
	var p Position
	if isFirst {
		p |= First
	}
	if isLast {
		p |= Last
	}
	return p
}

// IsFirst reports whether p includes [First].
func (p Position) IsFirst() bool { return p&First != 0 }

// IsLast reports whether p includes [Last].
func (p Position) IsLast() bool { return p&Last != 0 }

// String returns "first", "middle", "last" or "first|last".
func (p Position) String() string {
	switch p {
	case Middle:
		return "middle"
	case First:
		return "first"
	case Last:
		return "last"
	case First | Last:
		return "first|last"
	default:
		return fmt.Sprintf("Position(%d)", uint8(p))
	}
}

// Format names an output container.
type Format string

const (
	// FormatWAV is RIFF/WAVE with 16-bit mono PCM.
	FormatWAV Format = "wav"
	// FormatPCM is headerless signed 16-bit little-endian mono PCM.
	FormatPCM Format = "pcm"
)

// ParseFormat parses a case-insensitive format name. The empty string maps to
// [FormatWAV].
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatWAV, nil
	case FormatWAV, FormatPCM:
		return f, nil
	default:
		return "", fmt.Errorf("encode: unsupported format %q", s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatPCM:
		return "audio/L16"
	default:
		return "audio/wav"
	}
}

// Encoder converts one chunk of samples into container bytes.
//
// Implementations must be safe for concurrent use; they hold no per-stream
// state.
type Encoder interface {
	Encode(samples []int16, sampleRate int, pos Position) ([]byte, error)
}

var encoders = map[Format]Encoder{
	FormatWAV: WAV{},
	FormatPCM: PCM{},
}

// For returns the encoder registered for f.
func For(f Format) (Encoder, error) {
	e, ok := encoders[f]
	if !ok {
		return nil, fmt.Errorf("encode: no encoder for format %q", f)
	}
	return e, nil
}

// Chunk is a convenience wrapper around [For] and [Encoder.Encode].
func Chunk(f Format, samples []int16, sampleRate int, pos Position) ([]byte, error) {
	e, err := For(f)
	if err != nil {
		return nil, err
	}
	return e.Encode(samples, sampleRate, pos)
}
