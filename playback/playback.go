// Package playback plays the short chimes that mark recording start, stop and
// errors, and plays finished recordings back for review.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"sync"

	"storybooth/encoder"
	"storybooth/media"
)

var disabled bool

// Disable silences the chimes. Review playback is unaffected.
func Disable() { disabled = true }

const (
	chimeRate = 44100

	// Start chime: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// Stop chime: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error chime: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

var ErrUnsupported = errors.New("playback not supported for this recording")

var (
	startSamples []int16
	endSamples   []int16
	errorSamples []int16
	soundOnce    sync.Once
)

func initSound() {
	// 200ms tails keep the PulseAudio buffer filled
	startSamples = generateTick(chimeRate, startFreq, 0.2, startVolume, startDecay)
	endSamples = generateTick(chimeRate, endFreq, 0.2, endVolume, endDecay)
	errorSamples = generateDoubleBeep(chimeRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

func generateTick(sampleRate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

func chime(samples []int16) {
	if disabled {
		return
	}
	go playPCM(context.Background(), samples, chimeRate)
}

func Init() { soundOnce.Do(initSound) }

func PlayStart() {
	soundOnce.Do(initSound)
	chime(startSamples)
}

func PlayEnd() {
	soundOnce.Do(initSound)
	chime(endSamples)
}

func PlayError() {
	soundOnce.Do(initSound)
	chime(errorSamples)
}

// Review plays a finished recording and blocks until it ends or ctx is done.
// Audio takes play through the sound server; video takes open ffplay.
func Review(ctx context.Context, ref media.Ref) error {
	switch ref.Format {
	case "flac":
		samples, rate, err := encoder.DecodeFile(ref.Path)
		if err != nil {
			return err
		}
		return playPCM(ctx, samples, rate)
	case "mkv":
		return playExternal(ctx, ref.Path)
	}
	return fmt.Errorf("%w: format %q", ErrUnsupported, ref.Format)
}

func playExternal(ctx context.Context, path string) error {
	bin, err := exec.LookPath("ffplay")
	if err != nil {
		return fmt.Errorf("%w: ffplay not found", ErrUnsupported)
	}
	cmd := exec.CommandContext(ctx, bin, "-autoexit", "-loglevel", "error", "-window_title", "storybooth review", path)
	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ffplay: %w", err)
	}
	return nil
}
