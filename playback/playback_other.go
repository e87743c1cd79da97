//go:build !linux

package playback

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// playMu serializes playback so chimes never fight over the device.
var playMu sync.Mutex

// playPCM plays mono samples and returns once they finished or ctx is done.
func playPCM(ctx context.Context, samples []int16, rate int) error {
	if len(samples) == 0 {
		return nil
	}
	playMu.Lock()
	defer playMu.Unlock()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo: %w", err)
	}
	defer func() {
		mctx.Uninit()
		mctx.Free()
	}()

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = uint32(rate)

	done := make(chan struct{})
	var once sync.Once
	pos := 0
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n := 0
			for ; n < int(frameCount) && pos < len(samples); n++ {
				binary.LittleEndian.PutUint16(out[n*2:], uint16(samples[pos]))
				pos++
			}
			clear(out[n*2:])
			if pos >= len(samples) {
				once.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	device.Stop()
	return ctx.Err()
}
