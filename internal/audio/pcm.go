package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodePCM16 converts little-endian 16-bit PCM bytes to float32
// samples in [-1, 1]. The function is pure: same input, same output,
// no state.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM-16 data length must be even, got %d bytes", len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}

// EncodePCM16 converts float32 samples to little-endian 16-bit PCM
// bytes, clamping to [-1, 1].
func EncodePCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767.0))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return data
}
