//go:build linux

package playback

import (
	"context"
	"fmt"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// playPCM plays mono samples and returns once they drained or ctx is done.
func playPCM(ctx context.Context, samples []int16, rate int) error {
	if len(samples) == 0 {
		return nil
	}
	c, err := pulse.NewClient(pulse.ClientApplicationName("storybooth"))
	if err != nil {
		return fmt.Errorf("pulse: %w", err)
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) || ctx.Err() != nil {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(rate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
	return ctx.Err()
}
