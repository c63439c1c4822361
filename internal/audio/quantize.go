package audio

import (
	"encoding/binary"
	"math"
)

// Quantize converts float samples to signed 16-bit PCM. Samples are clamped
// to [-1, 1]; negatives scale by 32768 and the rest by 32767 so both ends of
// the int16 range are reachable without overflow. NaN becomes silence.
func Quantize(packet []float32) []int16 {
	pcm := make([]int16, len(packet))
	for i, s := range packet {
		if math.IsNaN(float64(s)) {
			continue
		}
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}

		if s < 0 {
			pcm[i] = int16(s * 0x8000)
		} else {
			pcm[i] = int16(s * 0x7FFF)
		}
	}
	return pcm
}

// PCM16Bytes serializes samples little-endian, two bytes each.
func PCM16Bytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
