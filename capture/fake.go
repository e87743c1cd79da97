package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"storybooth/encoder"
	"storybooth/media"
)

const (
	wavHeaderSize     = 44
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext plays back fixed PCM instead of a microphone. Deny and Missing
// make it behave like a refused permission prompt or an empty device list.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu      sync.Mutex
	deny    bool
	missing bool
}

// NewFakeContext loops the samples of a 16 kHz mono WAV file.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > wavHeaderSize {
		data = data[wavHeaderSize:]
	}
	return &FakeContext{pcm: data, realtime: realtime}, nil
}

// NewToneContext produces one second of a 440 Hz tone in a loop.
func NewToneContext(realtime bool) *FakeContext {
	return &FakeContext{pcm: Tone(440, time.Second, 0.3), realtime: realtime}
}

// Tone renders a sine wave as S16LE samples at encoder.SampleRate.
func Tone(freq float64, d time.Duration, amplitude float64) []byte {
	n := int(d.Seconds() * encoder.SampleRate)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/encoder.SampleRate)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}

func (f *FakeContext) SetDeny(deny bool) {
	f.mu.Lock()
	f.deny = deny
	f.mu.Unlock()
}

func (f *FakeContext) SetMissing(missing bool) {
	f.mu.Lock()
	f.missing = missing
	f.mu.Unlock()
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing {
		return nil, nil
	}
	return []DeviceInfo{{ID: "fake", Name: "Fake Microphone"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ Config) (Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.missing:
		return nil, fmt.Errorf("fake: %w", media.ErrDeviceUnavailable)
	case f.deny:
		return nil, fmt.Errorf("fake: %w", media.ErrPermissionDenied)
	}
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime}, nil
}

type FakeCapture struct {
	pcm      []byte
	realtime bool

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	if end >= len(f.pcm) {
		return 0
	}
	return end
}

// Start feeds the PCM in a loop until Stop. In realtime mode chunks are paced
// at the sample rate, otherwise a chunk is delivered every millisecond.
func (f *FakeCapture) Start() error {
	if len(f.pcm) == 0 {
		return fmt.Errorf("fake: no samples: %w", media.ErrDeviceUnavailable)
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Millisecond
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(encoder.SampleRate)
	}

	go func() {
		defer close(f.feedDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pos := 0
		for {
			select {
			case <-f.stopCh:
				return
			case <-ticker.C:
			}
			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb != nil {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() { f.Stop() }
