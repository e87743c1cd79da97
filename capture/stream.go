package capture

import (
	"sync"
	"sync/atomic"

	"storybooth/media"
)

type track struct {
	kind  media.Kind
	label string
	live  atomic.Bool
}

func newTrack(kind media.Kind, label string) *track {
	t := &track{kind: kind, label: label}
	t.live.Store(true)
	return t
}

func (t *track) Kind() media.Kind { return t.kind }
func (t *track) Label() string    { return t.label }
func (t *track) Live() bool       { return t.live.Load() }

type stream struct {
	mode    media.Mode
	meter   *Meter
	tracks  []*track
	once    sync.Once
	release func()
}

func newStream(mode media.Mode, meter *Meter, tracks []*track, release func()) *stream {
	return &stream{mode: mode, meter: meter, tracks: tracks, release: release}
}

func (s *stream) Mode() media.Mode { return s.mode }

func (s *stream) Tracks() []media.Track {
	out := make([]media.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *stream) Level() float64 { return s.meter.Level() }

func (s *stream) Stop() {
	s.once.Do(func() {
		for _, t := range s.tracks {
			t.live.Store(false)
		}
		if s.release != nil {
			s.release()
		}
	})
}
