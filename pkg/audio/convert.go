package audio

import (
	"encoding/binary"
	"math"
)

// Peak returns the largest absolute sample value in samples. NaN samples are
// ignored.
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
	}
	return peak
}

// FloatToPCM16 scales samples by gain and quantises them to signed 16-bit
// PCM, rounding to nearest and clamping to the int16 range.
func FloatToPCM16(samples []float32, gain float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * gain * math.MaxInt16)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		case math.IsNaN(v):
			v = 0
		}
		out[i] = int16(v)
	}
	return out
}

// PCM16ToFloat converts little-endian signed 16-bit PCM bytes to float32
// samples in [-1, 1). A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}

// PCM16Bytes serialises samples as little-endian signed 16-bit PCM.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ResampleLinear resamples mono float samples from srcRate to dstRate using
// linear interpolation. If the rates match (or either is non-positive) the
// input is returned unchanged.
func ResampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
