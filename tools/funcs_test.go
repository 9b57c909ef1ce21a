package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameSamples(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		rate     int
		channels int
		want     int
	}{
		{name: "20ms mono 48k", duration: 20 * time.Millisecond, rate: 48000, channels: 1, want: 960},
		{name: "20ms stereo 48k", duration: 20 * time.Millisecond, rate: 48000, channels: 2, want: 1920},
		{name: "10ms mono 24k", duration: 10 * time.Millisecond, rate: 24000, channels: 1, want: 240},
		{name: "60ms mono 48k", duration: 60 * time.Millisecond, rate: 48000, channels: 1, want: 2880},
		{name: "zero duration", duration: 0, rate: 48000, channels: 2, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FrameSamples(tt.duration, tt.rate, tt.channels))
		})
	}
}

func TestPCM16Bytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	data := PCM16ToBytes(samples)
	assert.Len(t, data, len(samples)*2)
	assert.Equal(t, []byte{0x01, 0x00}, data[2:4], "low byte first")
	assert.Equal(t, samples, BytesToPCM16(data))
}

func TestBytesToPCM16OddTrailingByte(t *testing.T) {
	data := []byte{0x34, 0x12, 0xff}
	assert.Equal(t, []int16{0x1234}, BytesToPCM16(data))
}
