package encode

import "github.com/MrWong99/voxstitch/pkg/audio"

// PCM encodes raw little-endian s16 samples. It has no header or trailer, so
// the position is ignored.
type PCM struct{}

var _ Encoder = PCM{}

// Encode implements [Encoder].
func (PCM) Encode(samples []int16, _ int, _ Position) ([]byte, error) {
	return audio.PCM16Bytes(samples), nil
}
