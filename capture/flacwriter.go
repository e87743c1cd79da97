package capture

import (
	"sync"
	"time"

	"storybooth/encoder"
)

// flacWriter encodes PCM to a FLAC file on a background goroutine so the
// audio callback never waits on the encoder.
type flacWriter struct {
	path       string
	enc        *encoder.FlacEncoder
	blockChan  chan []int16
	encodeDone chan struct{}

	bufMu     sync.Mutex
	sampleBuf []int16
	closed    bool
	err       error
}

func newFlacWriter(path string) (*flacWriter, error) {
	enc, err := encoder.NewFlacFile(path)
	if err != nil {
		return nil, err
	}
	w := &flacWriter{
		path:       path,
		enc:        enc,
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}

	go func() {
		defer close(w.encodeDone)
		for block := range w.blockChan {
			start := time.Now()
			if err := w.enc.EncodeBlock(block); err != nil && w.err == nil {
				w.err = err
			}
			w.enc.AddEncodeTime(time.Since(start))
		}
	}()

	return w, nil
}

func (w *flacWriter) Feed(pcm []byte) {
	w.bufMu.Lock()
	defer w.bufMu.Unlock()
	if w.closed {
		return
	}
	w.sampleBuf = append(w.sampleBuf, encoder.Samples(pcm)...)
	for len(w.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, w.sampleBuf[:encoder.BlockSize])
		w.sampleBuf = w.sampleBuf[encoder.BlockSize:]
		w.blockChan <- block
	}
}

// Close flushes the remaining samples and finalizes the file. It is safe to
// call more than once.
func (w *flacWriter) Close() (frames uint64, err error) {
	w.bufMu.Lock()
	if w.closed {
		w.bufMu.Unlock()
		<-w.encodeDone
		return w.enc.TotalFrames(), w.err
	}
	w.closed = true
	if len(w.sampleBuf) > 0 {
		w.blockChan <- w.sampleBuf
		w.sampleBuf = nil
	}
	close(w.blockChan)
	w.bufMu.Unlock()

	<-w.encodeDone
	if err := w.enc.Close(); err != nil && w.err == nil {
		w.err = err
	}
	return w.enc.TotalFrames(), w.err
}
