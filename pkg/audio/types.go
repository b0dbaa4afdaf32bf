// Package audio holds the sample-level primitives of the synthesis pipeline:
// the [Buffer] produced by a model for one chunk, PCM conversion helpers, and
// the per-stream loudness [Normalizer].
//
// Samples are mono float32 in the nominal range [-1, 1]. Conversion to signed
// 16-bit PCM happens only at the encoding boundary.
package audio

import "time"

// DefaultSampleRate is the native output rate of the synthesis model.
const DefaultSampleRate = 24000

// Buffer is one contiguous run of mono audio. Buffers returned by the
// synthesis service are treated as immutable: callers must copy before
// modifying Samples in place.
type Buffer struct {
	// Samples holds mono float32 samples, nominally within [-1, 1].
	Samples []float32

	// SampleRate in Hz (24000 for the default model).
	SampleRate int
}

// Len returns the number of samples in b.
func (b Buffer) Len() int { return len(b.Samples) }

// IsEmpty reports whether b carries no samples. An empty buffer from a model
// is a soft failure: the chunk is skipped.
func (b Buffer) IsEmpty() bool { return len(b.Samples) == 0 }

// Duration returns the playback length of b. Returns 0 when the sample rate
// is unknown.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Concat stitches bufs end to end in the order given. There is no cross-fade
// and no padding, so the result is exactly the sum of its parts.
//
// A single buffer is returned as-is without copying. The sample rate of the
// result is taken from the first buffer; callers are expected to pass buffers
// that share a rate.
func Concat(bufs ...Buffer) Buffer {
	switch len(bufs) {
	case 0:
		return Buffer{}
	case 1:
		return bufs[0]
	}
	total := 0
	for _, b := range bufs {
		total += len(b.Samples)
	}
	out := make([]float32, 0, total)
	for _, b := range bufs {
		out = append(out, b.Samples...)
	}
	return Buffer{Samples: out, SampleRate: bufs[0].SampleRate}
}
