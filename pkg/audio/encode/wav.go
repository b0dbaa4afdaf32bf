package encode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voxstitch/pkg/audio"
)

const (
	// WAVHeaderSize is the length of the canonical PCM RIFF/WAVE header.
	WAVHeaderSize = 44

	// unknownSize fills the RIFF and data length fields of a header whose
	// stream length is not known yet. Most decoders read until EOF.
	unknownSize = 0xFFFFFFFF

	bitDepth   = 16
	numChans   = 1
	formatPCM  = 1
	blockAlign = numChans * bitDepth / 8
)

// WAV encodes 16-bit mono RIFF/WAVE.
//
// A stream opened with [First] gets a header whose RIFF and data sizes are
// 0xFFFFFFFF since the total length is unknown when the first chunk is
// sent. A one-chunk stream ([First]|[Last]) is written as a complete file with
// exact sizes. WAV has no trailer, so [Last] alone adds nothing.
type WAV struct{}

var _ Encoder = WAV{}

// Encode implements [Encoder].
func (WAV) Encode(samples []int16, sampleRate int, pos Position) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("encode: wav: invalid sample rate %d", sampleRate)
	}
	switch {
	case pos.IsFirst() && pos.IsLast():
		return completeWAV(samples, sampleRate)
	case pos.IsFirst():
		out := make([]byte, 0, WAVHeaderSize+len(samples)*2)
		out = appendStreamingHeader(out, sampleRate)
		return append(out, audio.PCM16Bytes(samples)...), nil
	default:
		return audio.PCM16Bytes(samples), nil
	}
}

// appendStreamingHeader appends a 44-byte PCM header with unknown lengths.
func appendStreamingHeader(b []byte, sampleRate int) []byte {
	le := binary.LittleEndian
	b = append(b, "RIFF"...)
	b = le.AppendUint32(b, unknownSize)
	b = append(b, "WAVE"...)

	b = append(b, "fmt "...)
	b = le.AppendUint32(b, 16)
	b = le.AppendUint16(b, formatPCM)
	b = le.AppendUint16(b, numChans)
	b = le.AppendUint32(b, uint32(sampleRate))
	b = le.AppendUint32(b, uint32(sampleRate*blockAlign))
	b = le.AppendUint16(b, blockAlign)
	b = le.AppendUint16(b, bitDepth)

	b = append(b, "data"...)
	return le.AppendUint32(b, unknownSize)
}

// completeWAV writes a self-contained file through the go-audio encoder, which
// seeks back on Close to patch the RIFF and data sizes.
func completeWAV(samples []int16, sampleRate int) ([]byte, error) {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	ws := &memWriteSeeker{buf: make([]byte, 0, WAVHeaderSize+len(samples)*2)}
	enc := wav.NewEncoder(ws, sampleRate, bitDepth, numChans, formatPCM)
	err := enc.Write(&goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: numChans},
		SourceBitDepth: bitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("encode: wav: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode: wav: finalise: %w", err)
	}
	return ws.buf, nil
}

// memWriteSeeker is an in-memory io.WriteSeeker for the go-audio encoder.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, len(m.buf), max(end, 2*cap(m.buf)))
			copy(grown, m.buf)
			m.buf = grown
		}
		m.buf = m.buf[:end]
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("encode: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("encode: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
