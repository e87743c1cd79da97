package encoder

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// DecodeFile reads a mono FLAC file back into samples. Only the first channel
// of a multi-channel file is kept.
func DecodeFile(path string) (samples []int16, sampleRate int, err error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open flac: %w", err)
	}
	defer stream.Close()

	if stream.Info.BitsPerSample != BitsPerSample {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", stream.Info.BitsPerSample)
	}
	samples = make([]int16, 0, stream.Info.NSamples)
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("decode flac frame: %w", err)
		}
		for _, s := range f.Subframes[0].Samples {
			samples = append(samples, int16(s))
		}
	}
	return samples, int(stream.Info.SampleRate), nil
}
