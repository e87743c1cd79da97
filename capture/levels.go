package capture

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// SpeechLevel is the smoothed RMS above which input counts as speech.
const SpeechLevel = 0.02

// smoothing weight of the newest chunk
const levelAlpha = 0.3

// Meter tracks a smoothed RMS level of S16LE input. It is safe for one
// writer and any number of readers.
type Meter struct {
	level atomic.Uint64
}

func (m *Meter) Feed(data []byte) {
	rms := RMS(data)
	prev := math.Float64frombits(m.level.Load())
	m.level.Store(math.Float64bits(prev + levelAlpha*(rms-prev)))
}

// Level returns the smoothed level in 0..1.
func (m *Meter) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

func (m *Meter) Reset() { m.level.Store(0) }

// RMS of S16LE samples, normalized to 0..1.
func RMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / math.MaxInt16
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
