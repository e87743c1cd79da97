// Package encoder writes and reads the FLAC files audio recordings are kept in.
package encoder

import (
	"encoding/binary"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}

// Samples converts S16LE bytes to samples, dropping a trailing odd byte.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM converts samples back to S16LE bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Duration of n mono frames at SampleRate.
func Duration(frames uint64) time.Duration {
	return time.Duration(float64(frames) / SampleRate * float64(time.Second))
}
