package wizard

import (
	"context"
	"errors"
	"sync"

	"storybooth/media"
	"storybooth/story"
)

type fakeTrack struct {
	kind media.Kind
	mu   *sync.Mutex
	live bool
}

func (t *fakeTrack) Kind() media.Kind { return t.kind }
func (t *fakeTrack) Label() string    { return string(t.kind) + " (fake)" }
func (t *fakeTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

type fakeStream struct {
	mode   media.Mode
	mu     sync.Mutex
	tracks []*fakeTrack
}

func newFakeStream(mode media.Mode) *fakeStream {
	s := &fakeStream{mode: mode}
	for _, k := range mode.Kinds() {
		s.tracks = append(s.tracks, &fakeTrack{kind: k, mu: &s.mu, live: true})
	}
	return s
}

func (s *fakeStream) Mode() media.Mode { return s.mode }
func (s *fakeStream) Level() float64   { return 0.5 }
func (s *fakeStream) Tracks() []media.Track {
	out := make([]media.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}
func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		t.live = false
	}
}

// fakeProvider records every call and hands out streams whose tracks can be
// inspected after the wizard is done with them.
type fakeProvider struct {
	mu       sync.Mutex
	granted  bool
	deny     bool
	noDevice bool
	startErr error
	stopErr  error
	resumeErr error

	acquires []media.Mode
	streams  []*fakeStream
	status   media.Status
	ref      media.Ref
	clears   int
	pauses   int
	resumes  int
	nextID   int

	// block, when set, holds Acquire until it is closed.
	block chan struct{}
}

func (p *fakeProvider) Devices(ctx context.Context) ([]media.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.noDevice {
		return nil, nil
	}
	label := func(s string) string {
		if p.granted {
			return s
		}
		return ""
	}
	return []media.Device{
		{Kind: media.KindAudioInput, ID: "mic0", Label: label("Built-in Microphone")},
		{Kind: media.KindVideoInput, ID: "cam0", Label: label("Built-in Camera")},
	}, nil
}

func (p *fakeProvider) open(mode media.Mode) (media.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deny {
		return nil, media.ErrPermissionDenied
	}
	if p.noDevice {
		return nil, media.ErrDeviceUnavailable
	}
	p.granted = true
	s := newFakeStream(mode)
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakeProvider) Acquire(ctx context.Context, mode media.Mode, _ media.Settings) (media.Stream, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	p.acquires = append(p.acquires, mode)
	p.mu.Unlock()
	return p.open(mode)
}

func (p *fakeProvider) Start(ctx context.Context, mode media.Mode, _ media.Settings) (media.Stream, error) {
	p.mu.Lock()
	err := p.startErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s, err := p.open(mode)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.status = media.StatusRecording
	p.mu.Unlock()
	return s, nil
}

func (p *fakeProvider) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == media.StatusRecording {
		p.status = media.StatusPaused
		p.pauses++
	}
}

func (p *fakeProvider) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != media.StatusPaused {
		return nil
	}
	if p.resumeErr != nil {
		return p.resumeErr
	}
	p.status = media.StatusRecording
	p.resumes++
	return nil
}

func (p *fakeProvider) Stop(ctx context.Context) (media.Ref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopErr != nil {
		p.status = media.StatusFailed
		return media.Ref{}, p.stopErr
	}
	p.nextID++
	p.status = media.StatusStopped
	p.ref = media.Ref{
		ID:       "ref-" + string(rune('0'+p.nextID)),
		Path:     "/tmp/story.flac",
	}
	return p.ref, nil
}

func (p *fakeProvider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
	p.ref = media.Ref{}
	p.status = media.StatusIdle
}

func (p *fakeProvider) Status() media.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakeProvider) liveStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.streams {
		if media.Live(s) {
			n++
		}
	}
	return n
}

type fakeSink struct {
	mu    sync.Mutex
	errs  []error
	calls []story.Submission
}

var errUpstream = errors.New("upstream unavailable")

func (s *fakeSink) Submit(ctx context.Context, sub story.Submission) (story.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sub)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return story.Receipt{}, err
		}
	}
	return story.Receipt{ID: "rcpt-" + sub.SessionID, URL: "https://stories.example/" + sub.SessionID}, nil
}
