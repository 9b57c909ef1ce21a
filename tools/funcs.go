package tools

import (
	"encoding/binary"
	"time"
)

// FrameSamples returns how many interleaved samples cover one frame.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// PCM16ToBytes encodes 16-bit samples as little-endian bytes.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 decodes little-endian bytes into 16-bit samples. A trailing
// odd byte is ignored.
func BytesToPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
