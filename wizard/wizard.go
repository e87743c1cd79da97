// Package wizard drives the guided recording flow: prompt, capture mode,
// device permission, settings and live test, recording, review and
// submission.
//
// Every action is a method on Wizard. Actions that wait on a device or the
// network (permission prompts, stopping a capture, submitting) release the
// lock while they wait and re-enter the state machine when the collaborator
// answers, so the UI can keep calling Tick, Level and Snapshot meanwhile. Only
// one waiting action runs at a time; a second one fails with ErrBusy.
package wizard

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"storybooth/log"
	"storybooth/media"
	"storybooth/story"
)

// Provider is the media capture collaborator. Acquire opens a preview
// stream without recording. Start opens a stream and begins writing frames.
// Pause and Resume are no-ops unless a capture is running. A failed Resume
// leaves the capture paused. Stop finalizes
// the capture, releases its stream and returns a playable reference. Clear
// aborts any running capture and discards the current reference.
type Provider interface {
	Devices(ctx context.Context) ([]media.Device, error)
	Acquire(ctx context.Context, mode media.Mode, settings media.Settings) (media.Stream, error)
	Start(ctx context.Context, mode media.Mode, settings media.Settings) (media.Stream, error)
	Pause()
	Resume() error
	Stop(ctx context.Context) (media.Ref, error)
	Clear()
	Status() media.Status
}

// Sink stores a finished recording.
type Sink interface {
	Submit(ctx context.Context, sub story.Submission) (story.Receipt, error)
}

// Session is a snapshot of the wizard state.
type Session struct {
	ID          string
	Prompt      story.Prompt
	Contributor story.Contributor

	Step       Step
	Mode       media.Mode
	Settings   media.Settings
	Media      media.Ref
	Permission PermissionState
	Elapsed    int // seconds of running capture
	Paused     bool
	Sending    SendingState
	Receipt    story.Receipt

	// PermissionError marks the error sub-state of the permission step.
	PermissionError bool
	// DeviceError is shown inline in the preview area of test and settings.
	DeviceError error
	LastError   error
}

func (s Session) HasMedia() bool { return !s.Media.IsZero() }

type Event struct {
	From, To Step
	Session  Session
}

type Observer func(Event)

type Option func(*Wizard)

func WithObserver(o Observer) Option {
	return func(w *Wizard) { w.observer = o }
}

// WithSettings sets the device settings new sessions start with.
func WithSettings(s media.Settings) Option {
	return func(w *Wizard) { w.settings = s }
}

type Wizard struct {
	provider Provider
	sink     Sink
	observer Observer
	settings media.Settings

	mu      sync.Mutex
	sess    Session
	preview media.Stream
	live    media.Stream
	busy    bool
	closed  bool
	pending []Event
}

func New(p Provider, s Sink, opts ...Option) *Wizard {
	w := &Wizard{
		provider: p,
		sink:     s,
		settings: media.Settings{Quality: media.Quality1080p},
	}
	for _, o := range opts {
		o(w)
	}
	w.sess = w.fresh(story.Prompt{}, story.Contributor{})
	return w
}

func (w *Wizard) fresh(p story.Prompt, c story.Contributor) Session {
	return Session{
		ID:          uuid.NewString(),
		Prompt:      p,
		Contributor: c,
		Step:        StepPrompt,
		Mode:        media.ModeVideo,
		Settings:    w.settings,
	}
}

func (w *Wizard) Snapshot() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess
}

// Busy reports whether an action is waiting on the provider or the sink.
func (w *Wizard) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// Level returns the input level of whichever stream is open, or 0.
func (w *Wizard) Level() float64 {
	w.mu.Lock()
	s := w.preview
	if w.live != nil {
		s = w.live
	}
	w.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.Level()
}

// Begin starts a new session for the given prompt once the contributor has
// identified themselves.
func (w *Wizard) Begin(p story.Prompt, c story.Contributor) error {
	w.mu.Lock()
	defer w.unlock()
	if err := w.usable(); err != nil {
		return err
	}
	w.discardAll()
	prev := w.sess.Step
	w.sess = w.fresh(p, c)
	w.sess.Step = prev
	log.Infof("session %s: prompt %s", w.sess.ID, p.ID)
	w.setStep(StepPrompt)
	return nil
}

// Next follows the primary "next step" action of the current step.
func (w *Wizard) Next(ctx context.Context) error {
	w.mu.Lock()
	switch w.sess.Step {
	case StepPrompt, StepSettings:
		defer w.unlock()
		if err := w.usable(); err != nil {
			return err
		}
		if w.sess.Step == StepPrompt {
			w.setStep(StepMode)
		} else {
			w.setStep(StepTest)
		}
		return nil
	case StepTest:
		w.unlock()
		return w.StartRecording(ctx)
	}
	step := w.sess.Step
	w.unlock()
	return &TransitionError{Action: "go to the next step", Step: step}
}

func (w *Wizard) Back(ctx context.Context) error {
	w.mu.Lock()
	if err := w.usable(); err != nil {
		w.unlock()
		return err
	}
	reacquire := false
	switch w.sess.Step {
	case StepMode:
		w.setStep(StepPrompt)
	case StepPermission:
		w.sess.PermissionError = false
		w.setStep(StepMode)
	case StepTest:
		w.releasePreview()
		w.sess.DeviceError = nil
		w.setStep(StepMode)
	case StepSettings:
		w.setStep(StepTest)
	case StepRecording:
		w.releaseLive()
		w.provider.Clear()
		w.sess.Elapsed = 0
		reacquire = true
	case StepReview:
		w.clearMedia()
		reacquire = true
	default:
		step := w.sess.Step
		w.unlock()
		return &TransitionError{Action: "go back", Step: step}
	}
	if !reacquire {
		w.unlock()
		return nil
	}
	w.busy = true
	mode, settings := w.sess.Mode, w.sess.Settings
	w.unlock()

	stream, err := w.provider.Acquire(ctx, mode, settings)

	w.mu.Lock()
	defer w.unlock()
	w.busy = false
	if w.closed {
		stopStream(stream)
		return ErrClosed
	}
	w.enterTest(stream, err)
	return nil
}

// SelectMode picks audio or video. When device labels for the mode are
// already exposed the permission step is skipped and the preview opens
// directly.
func (w *Wizard) SelectMode(ctx context.Context, m media.Mode) error {
	if _, err := media.ParseMode(string(m)); err != nil {
		return err
	}
	w.mu.Lock()
	if err := w.check("select mode", StepMode); err != nil {
		w.unlock()
		return err
	}
	w.sess.Mode = m
	w.sess.PermissionError = false
	w.sess.DeviceError = nil
	w.busy = true
	settings := w.sess.Settings
	w.unlock()

	exposed := w.labelsExposed(ctx, m)
	var stream media.Stream
	var err error
	if exposed {
		stream, err = w.provider.Acquire(ctx, m, settings)
	}

	w.mu.Lock()
	defer w.unlock()
	w.busy = false
	if w.closed {
		stopStream(stream)
		return ErrClosed
	}
	switch {
	case !exposed:
		w.setStep(StepPermission)
	case err == nil || errors.Is(err, media.ErrDeviceUnavailable):
		w.sess.Permission = PermissionGranted
		w.enterTest(stream, err)
	default:
		// Labels were visible but access failed anyway: ask explicitly.
		log.Warnf("preview with known devices failed: %v", err)
		w.sess.LastError = err
		w.setStep(StepPermission)
	}
	return nil
}

func (w *Wizard) labelsExposed(ctx context.Context, m media.Mode) bool {
	devices, err := w.provider.Devices(ctx)
	if err != nil {
		log.Warnf("device enumeration failed: %v", err)
		return false
	}
	for _, kind := range m.Kinds() {
		if !slices.ContainsFunc(devices, func(d media.Device) bool {
			return d.Kind == kind && d.Label != ""
		}) {
			return false
		}
	}
	return true
}

// RequestPermission asks for access to the devices the mode needs. A refusal
// leaves the wizard in the permission step with PermissionError set.
func (w *Wizard) RequestPermission(ctx context.Context) error {
	w.mu.Lock()
	if err := w.check("request permission", StepPermission); err != nil {
		w.unlock()
		return err
	}
	w.busy = true
	w.sess.PermissionError = false
	mode, settings := w.sess.Mode, w.sess.Settings
	w.unlock()

	stream, err := w.provider.Acquire(ctx, mode, settings)

	w.mu.Lock()
	defer w.unlock()
	w.busy = false
	if w.closed {
		stopStream(stream)
		return ErrClosed
	}
	if err != nil {
		if errors.Is(err, media.ErrPermissionDenied) {
			w.sess.Permission = PermissionDenied
		}
		log.Warnf("permission request failed: %v", err)
		w.sess.PermissionError = true
		w.sess.LastError = err
		w.setStep(StepPermission)
		return err
	}
	w.sess.Permission = PermissionGranted
	w.sess.LastError = nil
	w.enterTest(stream, nil)
	return nil
}

// RetryPermission re-issues the same request after a refusal.
func (w *Wizard) RetryPermission(ctx context.Context) error {
	w.mu.Lock()
	step, failed := w.sess.Step, w.sess.PermissionError
	w.unlock()
	if step != StepPermission || !failed {
		return &TransitionError{Action: "retry permission", Step: step}
	}
	return w.RequestPermission(ctx)
}

func (w *Wizard) OpenSettings() error {
	w.mu.Lock()
	defer w.unlock()
	if err := w.check("open settings", StepTest); err != nil {
		return err
	}
	w.setStep(StepSettings)
	return nil
}

func (w *Wizard) CloseSettings() error {
	w.mu.Lock()
	defer w.unlock()
	if err := w.check("close settings", StepSettings); err != nil {
		return err
	}
	w.setStep(StepTest)
	return nil
}

// ApplySettings switches devices or quality. The preview is reopened with
// the new settings when it changes anything the stream depends on.
func (w *Wizard) ApplySettings(ctx context.Context, s media.Settings) error {
	w.mu.Lock()
	if err := w.check("change settings", StepSettings); err != nil {
		w.unlock()
		return err
	}
	if s.Quality == "" {
		s.Quality = media.Quality1080p
	}
	if s == w.sess.Settings && w.preview != nil {
		w.unlock()
		return nil
	}
	w.sess.Settings = s
	w.settings = s
	w.releasePreview()
	w.busy = true
	mode := w.sess.Mode
	w.unlock()

	stream, err := w.provider.Acquire(ctx, mode, s)

	w.mu.Lock()
	defer w.unlock()
	w.busy = false
	if w.closed {
		stopStream(stream)
		return ErrClosed
	}
	w.preview = stream
	w.sess.DeviceError = err
	w.setStep(StepSettings)
	return err
}

// StartRecording leaves the preview and begins capturing.
func (w *Wizard) StartRecording(ctx context.Context) error {
	w.mu.Lock()
	if err := w.check("start recording", StepTest); err != nil {
		w.unlock()
		return err
	}
	if w.sess.DeviceError != nil {
		err := w.sess.DeviceError
		w.unlock()
		return err
	}
	w.releasePreview()
	w.busy = true
	mode, settings := w.sess.Mode, w.sess.Settings
	w.unlock()

	return w.start(ctx, mode, settings)
}

func (w *Wizard) start(ctx context.Context, mode media.Mode, settings media.Settings) error {
	stream, err := w.provider.Start(ctx, mode, settings)

	w.mu.Lock()
	defer w.unlock()
	w.busy = false
	if w.closed {
		stopStream(stream)
		w.provider.Clear()
		return ErrClosed
	}
	if err != nil {
		log.Errorf("start capture: %v", err)
		w.sess.DeviceError = err
		w.sess.LastError = err
		w.setStep(StepTest)
		return err
	}
	w.live = stream
	w.sess.Elapsed = 0
	w.sess.Paused = false
	w.sess.LastError = nil
	w.setStep(StepRecording)
	return nil
}

func (w *Wizard) Pause() error  { return w.setPaused(true) }
func (w *Wizard) Resume() error { return w.setPaused(false) }

func (w *Wizard) TogglePause() error {
	w.mu.Lock()
	paused := w.sess.Paused
	w.unlock()
	return w.setPaused(!paused)
}

func (w *Wizard) setPaused(paused bool) error {
	w.mu.Lock()
	defer w.unlock()
	action := "resume"
	if paused {
		action = "pause"
	}
	if err := w.check(action, StepRecording); err != nil {
		return err
	}
	if w.sess.Paused == paused {
		return nil
	}
	if paused {
		w.provider.Pause()
	} else if err := w.provider.Resume(); err != nil {
		log.Errorf("resume capture: %v", err)
		w.sess.DeviceError = err
		w.sess.LastError = err
		w.setStep(StepRecording)
		return err
	}
	w.sess.Paused = paused
	w.sess.DeviceError = nil
	w.setStep(StepRecording)
	return nil
}

// Tick advances the elapsed counter by one second while a capture is running.
// The host calls it once per second.
func (w *Wizard) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.busy || w.sess.Step != StepRecording || w.sess.Paused {
		return
	}
	w.sess.Elapsed++
}

// StopRecording finalizes the capture and moves to review.
func (w *Wizard) StopRecording(ctx context.Context) error {
	w.mu.Lock()
	if err := w.check("stop recording", StepRecording); err != nil {
		w.unlock()
		return err
	}
	w.busy = true
	w.unlock()

	ref, err := w.provider.Stop(ctx)

	w.mu.Lock()
	defer w.unlock()
	w.busy = false
	w.releaseLive()
	if w.closed {
		w.provider.Clear()
		return ErrClosed
	}
	if err != nil {
		log.Errorf("stop capture: %v", err)
		w.provider.Clear()
		w.sess.LastError = err
		w.sess.DeviceError = err
		w.setStep(StepTest)
		return err
	}
	w.sess.Media = ref
	w.sess.Paused = false
	w.setStep(StepReview)
	return nil
}

// RecordAgain discards the reviewed recording and starts a new capture.
func (w *Wizard) RecordAgain(ctx context.Context) error {
	w.mu.Lock()
	if err := w.check("record again", StepReview); err != nil {
		w.unlock()
		return err
	}
	w.clearMedia()
	w.sess.LastError = nil
	w.busy = true
	mode, settings := w.sess.Mode, w.sess.Settings
	w.unlock()

	return w.start(ctx, mode, settings)
}

// ChangeMode returns to mode selection, discarding any recording.
func (w *Wizard) ChangeMode() error {
	w.mu.Lock()
	defer w.unlock()
	if err := w.check("change mode", StepTest, StepSettings, StepReview); err != nil {
		return err
	}
	w.releasePreview()
	w.clearMedia()
	w.sess.DeviceError = nil
	w.sess.LastError = nil
	w.setStep(StepMode)
	return nil
}

// Submit hands the recording to the sink. On failure the wizard returns to
// review with the recording untouched so it can be submitted again.
func (w *Wizard) Submit(ctx context.Context) error {
	w.mu.Lock()
	if err := w.check("submit", StepReview); err != nil {
		w.unlock()
		return err
	}
	if w.sess.Media.IsZero() {
		w.unlock()
		return ErrNoMedia
	}
	sub := story.Submission{
		SessionID:   w.sess.ID,
		Prompt:      w.sess.Prompt,
		Contributor: w.sess.Contributor,
		Media:       w.sess.Media,
	}
	w.busy = true
	w.sess.Sending = SendingInFlight
	w.sess.LastError = nil
	w.setStep(StepSending)
	w.unlock()

	receipt, err := w.sink.Submit(ctx, sub)

	w.mu.Lock()
	defer w.unlock()
	w.busy = false
	if w.closed {
		return ErrClosed
	}
	if err != nil {
		log.Errorf("submission failed: %v", err)
		serr := &SubmissionError{Err: err}
		w.sess.Sending = SendingIdle
		w.sess.LastError = serr
		w.setStep(StepReview)
		return serr
	}
	w.sess.Sending = SendingComplete
	w.sess.Receipt = receipt
	log.Receipt(w.sess.ID, receipt.ID, receipt.URL)
	w.setStep(StepDone)
	return nil
}

// Reset starts over from the prompt after a completed submission.
func (w *Wizard) Reset() error {
	w.mu.Lock()
	defer w.unlock()
	if err := w.check("record another", StepDone); err != nil {
		return err
	}
	w.discardAll()
	p, c := w.sess.Prompt, w.sess.Contributor
	w.sess = w.fresh(p, c)
	w.sess.Step = StepDone
	w.setStep(StepPrompt)
	return nil
}

// Close releases every device handle. It is safe to call at any time,
// including while another action is waiting.
func (w *Wizard) Close() {
	w.mu.Lock()
	defer w.unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.releasePreview()
	if w.live != nil {
		w.releaseLive()
		w.provider.Clear()
	}
}

func (w *Wizard) usable() error {
	if w.closed {
		return ErrClosed
	}
	if w.busy {
		return ErrBusy
	}
	return nil
}

func (w *Wizard) check(action string, allowed ...Step) error {
	if err := w.usable(); err != nil {
		return err
	}
	if !slices.Contains(allowed, w.sess.Step) {
		return &TransitionError{Action: action, Step: w.sess.Step}
	}
	return nil
}

func (w *Wizard) enterTest(stream media.Stream, err error) {
	w.preview = stream
	w.sess.DeviceError = err
	if err != nil {
		log.Warnf("preview unavailable: %v", err)
	}
	w.setStep(StepTest)
}

func (w *Wizard) setStep(to Step) {
	from := w.sess.Step
	w.sess.Step = to
	if to != StepRecording {
		w.sess.Paused = false
	}
	if from != to {
		log.Transition(w.sess.ID, from.String(), to.String())
	}
	w.pending = append(w.pending, Event{From: from, To: to, Session: w.sess})
}

// unlock releases the mutex and then reports queued events, so observers
// may call back into the wizard.
func (w *Wizard) unlock() {
	events := w.pending
	w.pending = nil
	w.mu.Unlock()
	if w.observer == nil {
		return
	}
	for _, e := range events {
		w.observer(e)
	}
}

func (w *Wizard) releasePreview() {
	stopStream(w.preview)
	w.preview = nil
}

func (w *Wizard) releaseLive() {
	stopStream(w.live)
	w.live = nil
}

func (w *Wizard) clearMedia() {
	if !w.sess.Media.IsZero() {
		w.provider.Clear()
	}
	w.sess.Media = media.Ref{}
	w.sess.Elapsed = 0
}

func (w *Wizard) discardAll() {
	w.releasePreview()
	if w.live != nil {
		w.releaseLive()
		w.provider.Clear()
	}
	w.clearMedia()
}

func stopStream(s media.Stream) {
	if s != nil {
		s.Stop()
	}
}
