package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"storybooth/encoder"
	"storybooth/log"
	"storybooth/media"
)

var ErrNoCapture = errors.New("no capture running")

type Options struct {
	Audio  Context
	Camera VideoSource // nil disables video mode
	Grants *Grants
	// Dir receives one subdirectory per recording.
	Dir string
}

// Recorder opens previews, records takes and hands back finished files.
// Audio is written to FLAC; video takes record one Matroska segment per
// running interval and are joined with the audio on Stop.
type Recorder struct {
	audio  Context
	camera VideoSource
	grants *Grants
	dir    string

	mu     sync.Mutex
	status media.Status
	active *take
	ref    media.Ref
}

func NewRecorder(o Options) *Recorder {
	if o.Grants == nil {
		o.Grants = LoadGrants("")
	}
	return &Recorder{
		audio:  o.Audio,
		camera: o.Camera,
		grants: o.Grants,
		dir:    o.Dir,
		status: media.StatusIdle,
	}
}

type take struct {
	id       string
	mode     media.Mode
	settings media.Settings
	dir      string

	mic      Device
	meter    Meter
	writer   *flacWriter
	paused   atomic.Bool
	segment  Feed
	segments []string
	running  time.Time
	elapsed  time.Duration
	stream   *stream
}

func (t *take) feed(data []byte, _ uint32) {
	t.meter.Feed(data)
	if t.paused.Load() {
		return
	}
	t.writer.Feed(data)
}

func (t *take) nextSegment() string {
	p := filepath.Join(t.dir, fmt.Sprintf("segment-%03d.mkv", len(t.segments)))
	t.segments = append(t.segments, p)
	return p
}

// Devices lists microphones and cameras. Labels stay empty for kinds the
// user has not granted yet.
func (r *Recorder) Devices(ctx context.Context) ([]media.Device, error) {
	mics, err := r.audio.Devices()
	if err != nil {
		return nil, classify("list microphones", err)
	}
	var out []media.Device
	for _, m := range mics {
		d := media.Device{Kind: media.KindAudioInput, ID: m.ID}
		if r.grants.Granted(media.KindAudioInput) {
			d.Label = m.Name
		}
		out = append(out, d)
	}
	if r.camera == nil {
		return out, nil
	}
	cams, err := r.camera.Devices(ctx)
	if err != nil {
		log.Warnf("list cameras: %v", err)
		return out, nil
	}
	for _, c := range cams {
		d := media.Device{Kind: media.KindVideoInput, ID: c.ID}
		if r.grants.Granted(media.KindVideoInput) {
			d.Label = c.Name
		}
		out = append(out, d)
	}
	return out, nil
}

// Acquire opens a live preview. Nothing is written to disk.
func (r *Recorder) Acquire(ctx context.Context, mode media.Mode, settings media.Settings) (media.Stream, error) {
	prev := r.setStatus(media.StatusAcquiring)

	meter := &Meter{}
	mic, micLabel, err := r.openMic(settings, func(data []byte, _ uint32) { meter.Feed(data) })
	if err != nil {
		r.setStatus(prev)
		return nil, err
	}
	tracks := []*track{newTrack(media.KindAudioInput, micLabel)}

	var cam Feed
	if mode == media.ModeVideo {
		var camLabel string
		cam, camLabel, err = r.openCamera(ctx, settings, "")
		if err != nil {
			closeMic(mic)
			r.setStatus(prev)
			return nil, err
		}
		tracks = append(tracks, newTrack(media.KindVideoInput, camLabel))
	}

	r.grants.Grant(mode.Kinds()...)
	r.setStatus(prev)
	return newStream(mode, meter, tracks, func() {
		closeMic(mic)
		if cam != nil {
			if err := cam.Stop(); err != nil {
				log.Warnf("stop camera preview: %v", err)
			}
		}
	}), nil
}

// Start begins a new take. Any previous finished take stays on disk until
// Clear.
func (r *Recorder) Start(ctx context.Context, mode media.Mode, settings media.Settings) (media.Stream, error) {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("capture already running")
	}
	r.status = media.StatusAcquiring
	r.mu.Unlock()

	t, err := r.begin(ctx, mode, settings)
	if err != nil {
		r.setStatus(media.StatusFailed)
		return nil, err
	}

	r.grants.Grant(mode.Kinds()...)
	r.mu.Lock()
	r.active = t
	r.ref = media.Ref{}
	r.status = media.StatusRecording
	r.mu.Unlock()
	log.Infof("capture started: take=%s mode=%s quality=%s", t.id, mode, settings.Quality)
	return t.stream, nil
}

func (r *Recorder) begin(ctx context.Context, mode media.Mode, settings media.Settings) (_ *take, err error) {
	t := &take{
		id:       uuid.NewString(),
		mode:     mode,
		settings: settings,
	}
	t.dir = filepath.Join(r.dir, t.id)
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return nil, fmt.Errorf("create take dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(t.dir)
		}
	}()

	t.writer, err = newFlacWriter(filepath.Join(t.dir, "audio.flac"))
	if err != nil {
		return nil, err
	}

	mic, micLabel, err := r.openMic(settings, t.feed)
	if err != nil {
		t.writer.Close()
		return nil, err
	}
	t.mic = mic
	tracks := []*track{newTrack(media.KindAudioInput, micLabel)}

	if mode == media.ModeVideo {
		feed, camLabel, err := r.openCamera(ctx, settings, t.nextSegment())
		if err != nil {
			closeMic(mic)
			t.writer.Close()
			return nil, err
		}
		t.segment = feed
		tracks = append(tracks, newTrack(media.KindVideoInput, camLabel))
	}

	t.running = time.Now()
	t.stream = newStream(mode, &t.meter, tracks, func() { r.abort(t) })
	return t, nil
}

// Pause stops writing frames. It does nothing unless a take is running.
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.active
	if t == nil || r.status != media.StatusRecording {
		return
	}
	t.paused.Store(true)
	t.elapsed += time.Since(t.running)
	if t.segment != nil {
		if err := t.segment.Stop(); err != nil {
			log.Warnf("pause camera: %v", err)
		}
		t.segment = nil
	}
	r.status = media.StatusPaused
}

// Resume continues a paused take. Video takes reopen the camera for a new
// segment; if that fails the take stays paused so audio and video keep the
// same timeline.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.active
	if t == nil || r.status != media.StatusPaused {
		return nil
	}
	if t.mode == media.ModeVideo {
		feed, _, err := r.openCamera(context.Background(), t.settings, t.nextSegment())
		if err != nil {
			t.segments = t.segments[:len(t.segments)-1]
			return fmt.Errorf("resume camera: %w", err)
		}
		t.segment = feed
	}
	t.running = time.Now()
	t.paused.Store(false)
	r.status = media.StatusRecording
	return nil
}

// Stop finalizes the running take and returns a reference to the file.
func (r *Recorder) Stop(ctx context.Context) (media.Ref, error) {
	r.mu.Lock()
	t := r.active
	if t == nil {
		r.mu.Unlock()
		return media.Ref{}, ErrNoCapture
	}
	r.active = nil
	if r.status == media.StatusRecording {
		t.elapsed += time.Since(t.running)
	}
	r.mu.Unlock()

	closeMic(t.mic)
	if t.segment != nil {
		if err := t.segment.Stop(); err != nil {
			log.Warnf("stop camera: %v", err)
		}
	}
	t.stream.Stop()

	ref, err := r.finish(ctx, t)
	if err != nil {
		os.RemoveAll(t.dir)
		r.setStatus(media.StatusFailed)
		return media.Ref{}, err
	}

	r.mu.Lock()
	r.ref = ref
	r.status = media.StatusStopped
	r.mu.Unlock()
	log.Infof("capture stopped: take=%s format=%s duration=%s size=%d", ref.ID, ref.Format, ref.Duration, ref.Size)
	return ref, nil
}

func (r *Recorder) finish(ctx context.Context, t *take) (media.Ref, error) {
	frames, err := t.writer.Close()
	if err != nil {
		return media.Ref{}, fmt.Errorf("finalize audio: %w", err)
	}
	ref := media.Ref{
		ID:        t.id,
		Mode:      t.mode,
		Path:      t.writer.path,
		Format:    "flac",
		Duration:  t.elapsed.Round(time.Second),
		CreatedAt: time.Now(),
	}
	if t.mode == media.ModeAudio && frames > 0 {
		ref.Duration = encoder.Duration(frames).Round(time.Second)
	}

	if t.mode == media.ModeVideo {
		out := filepath.Join(t.dir, "story.mkv")
		if err := r.camera.Join(ctx, t.segments, t.writer.path, out); err != nil {
			return media.Ref{}, err
		}
		for _, s := range t.segments {
			os.Remove(s)
		}
		os.Remove(t.writer.path)
		ref.Path = out
		ref.Format = "mkv"
	}

	info, err := os.Stat(ref.Path)
	if err != nil {
		return media.Ref{}, err
	}
	ref.Size = info.Size()
	return ref, nil
}

// abort discards a take that is released without Stop.
func (r *Recorder) abort(t *take) {
	r.mu.Lock()
	if r.active != t {
		r.mu.Unlock()
		return
	}
	r.active = nil
	r.status = media.StatusIdle
	r.mu.Unlock()

	closeMic(t.mic)
	if t.segment != nil {
		t.segment.Stop()
	}
	t.writer.Close()
	os.RemoveAll(t.dir)
	log.Infof("capture discarded: take=%s", t.id)
}

// Clear aborts a running take and deletes the finished one.
func (r *Recorder) Clear() {
	r.mu.Lock()
	t := r.active
	ref := r.ref
	r.ref = media.Ref{}
	r.mu.Unlock()

	if t != nil {
		t.stream.Stop()
	}
	if !ref.IsZero() {
		if err := os.RemoveAll(filepath.Join(r.dir, ref.ID)); err != nil {
			log.Warnf("remove take %s: %v", ref.ID, err)
		}
	}
	r.setStatus(media.StatusIdle)
}

func (r *Recorder) Status() media.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Recorder) setStatus(s media.Status) (prev media.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.status
	r.status = s
	return prev
}

func (r *Recorder) openMic(settings media.Settings, cb DataCallback) (Device, string, error) {
	devices, err := r.audio.Devices()
	if err != nil {
		return nil, "", classify("list microphones", err)
	}
	if len(devices) == 0 {
		return nil, "", fmt.Errorf("no microphone found: %w", media.ErrDeviceUnavailable)
	}
	dev := findDevice(devices, settings.Microphone)
	if settings.Microphone != "" && dev == nil {
		return nil, "", fmt.Errorf("microphone %q: %w", settings.Microphone, media.ErrDeviceUnavailable)
	}
	label := "System default"
	if dev != nil {
		label = dev.Name
	}

	mic, err := r.audio.NewCapture(dev, Config{SampleRate: encoder.SampleRate, Channels: encoder.Channels})
	if err != nil {
		return nil, "", classify("open microphone", err)
	}
	mic.SetCallback(cb)
	if err := mic.Start(); err != nil {
		mic.Close()
		return nil, "", classify("start microphone", err)
	}
	return mic, label, nil
}

func (r *Recorder) openCamera(ctx context.Context, settings media.Settings, segment string) (Feed, string, error) {
	if r.camera == nil {
		return nil, "", fmt.Errorf("video capture disabled: %w", media.ErrDeviceUnavailable)
	}
	devices, err := r.camera.Devices(ctx)
	if err != nil {
		return nil, "", classify("list cameras", err)
	}
	if len(devices) == 0 {
		return nil, "", fmt.Errorf("no camera found: %w", media.ErrDeviceUnavailable)
	}
	dev := findDevice(devices, settings.Camera)
	if settings.Camera != "" && dev == nil {
		return nil, "", fmt.Errorf("camera %q: %w", settings.Camera, media.ErrDeviceUnavailable)
	}
	if dev == nil {
		dev = &devices[0]
	}

	var feed Feed
	if segment == "" {
		feed, err = r.camera.Preview(ctx, dev.ID, settings.Quality)
	} else {
		feed, err = r.camera.Segment(ctx, dev.ID, settings.Quality, segment)
	}
	if err != nil {
		return nil, "", classify("open camera", err)
	}
	return feed, dev.Name, nil
}

func closeMic(mic Device) {
	mic.ClearCallback()
	mic.Stop()
	mic.Close()
}
