package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"storybooth/media"
	"storybooth/story"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	testPrompt = story.Prompt{ID: "1", Text: "How did your relationship with your parents change as you got older?"}
	testPerson = story.Contributor{FirstName: "Ada", LastName: "Byron", Phone: "+15551234567"}
)

type transition struct{ From, To Step }

type recorder struct {
	mu     sync.Mutex
	events []transition
}

func (r *recorder) observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, transition{e.From, e.To})
}

func (r *recorder) steps() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.events...)
}

func newTestWizard(t *testing.T, p *fakeProvider, s *fakeSink) (*Wizard, *recorder) {
	t.Helper()
	rec := &recorder{}
	w := New(p, s, WithObserver(rec.observe))
	t.Cleanup(w.Close)
	if err := w.Begin(testPrompt, testPerson); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return w, rec
}

func mustStep(t *testing.T, w *Wizard, want Step) {
	t.Helper()
	if got := w.Snapshot().Step; got != want {
		t.Fatalf("step = %s, want %s", got, want)
	}
}

// toTest walks a fresh wizard from prompt to the live preview.
func toTest(t *testing.T, w *Wizard, mode media.Mode) {
	t.Helper()
	ctx := context.Background()
	if err := w.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := w.SelectMode(ctx, mode); err != nil {
		t.Fatalf("SelectMode: %v", err)
	}
	if w.Snapshot().Step == StepPermission {
		if err := w.RequestPermission(ctx); err != nil {
			t.Fatalf("RequestPermission: %v", err)
		}
	}
	mustStep(t, w, StepTest)
}

func record(t *testing.T, w *Wizard, seconds int) {
	t.Helper()
	ctx := context.Background()
	if err := w.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	for i := 0; i < seconds; i++ {
		w.Tick()
	}
	if err := w.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	mustStep(t, w, StepReview)
}

func TestVideoElapsedAndSubmit(t *testing.T) {
	p := &fakeProvider{}
	s := &fakeSink{}
	w, rec := newTestWizard(t, p, s)
	ctx := context.Background()

	toTest(t, w, media.ModeVideo)
	if err := w.StartRecording(ctx); err != nil {
		t.Fatal(err)
	}
	ticks := func(n int) {
		for i := 0; i < n; i++ {
			w.Tick()
		}
	}
	ticks(3)
	if err := w.Pause(); err != nil {
		t.Fatal(err)
	}
	ticks(4)
	if err := w.Resume(); err != nil {
		t.Fatal(err)
	}
	ticks(2)
	if got := w.Snapshot().Elapsed; got != 5 {
		t.Fatalf("elapsed = %d, want 5 with paused seconds left out", got)
	}
	if err := w.StopRecording(ctx); err != nil {
		t.Fatal(err)
	}
	snap := w.Snapshot()
	if snap.Step != StepReview || snap.Media != p.ref {
		t.Fatalf("review = %s with %+v, want review with %+v", snap.Step, snap.Media, p.ref)
	}
	if err := w.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap = w.Snapshot()
	if snap.Step != StepDone || snap.Sending != SendingComplete {
		t.Fatalf("got %s/%s, want done/complete", snap.Step, snap.Sending)
	}
	if snap.Receipt.ID != "rcpt-"+snap.ID {
		t.Errorf("receipt = %q", snap.Receipt.ID)
	}
	if len(s.calls) != 1 || s.calls[0].Media != snap.Media || s.calls[0].Contributor != testPerson {
		t.Errorf("sink calls = %+v", s.calls)
	}

	want := []transition{
		{StepPrompt, StepPrompt},
		{StepPrompt, StepMode},
		{StepMode, StepPermission},
		{StepPermission, StepTest},
		{StepTest, StepRecording},
		{StepRecording, StepRecording},
		{StepRecording, StepRecording},
		{StepRecording, StepReview},
		{StepReview, StepSending},
		{StepSending, StepDone},
	}
	if diff := cmp.Diff(want, rec.steps()); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
	if n := p.liveStreams(); n != 0 {
		t.Errorf("%d streams still live after done", n)
	}
}

func TestGrantedAudioSkipsPermission(t *testing.T) {
	p := &fakeProvider{granted: true}
	w, rec := newTestWizard(t, p, &fakeSink{})
	ctx := context.Background()

	if err := w.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.SelectMode(ctx, media.ModeAudio); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepTest)
	for _, tr := range rec.steps() {
		if tr.To == StepPermission {
			t.Fatal("permission step was entered")
		}
	}
	if got := w.Snapshot().Permission; got != PermissionGranted {
		t.Errorf("permission = %s, want granted", got)
	}
	if p.liveStreams() != 1 {
		t.Errorf("preview not live")
	}
}

func TestDenialThenRetry(t *testing.T) {
	p := &fakeProvider{deny: true}
	w, _ := newTestWizard(t, p, &fakeSink{})
	ctx := context.Background()

	if err := w.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.SelectMode(ctx, media.ModeVideo); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepPermission)

	err := w.RequestPermission(ctx)
	if !errors.Is(err, media.ErrPermissionDenied) {
		t.Fatalf("RequestPermission err = %v, want ErrPermissionDenied", err)
	}
	snap := w.Snapshot()
	if snap.Step != StepPermission || !snap.PermissionError || snap.Permission != PermissionDenied {
		t.Fatalf("after denial: step=%s error=%v permission=%s", snap.Step, snap.PermissionError, snap.Permission)
	}

	p.mu.Lock()
	p.deny = false
	p.mu.Unlock()
	if err := w.RetryPermission(ctx); err != nil {
		t.Fatalf("RetryPermission: %v", err)
	}
	mustStep(t, w, StepTest)
	if diff := cmp.Diff([]media.Mode{media.ModeVideo, media.ModeVideo}, p.acquires); diff != "" {
		t.Errorf("permission requests differ (-want +got):\n%s", diff)
	}
	if w.Snapshot().PermissionError {
		t.Error("error sub-state not cleared")
	}
}

func TestRetryWithoutFailure(t *testing.T) {
	w, _ := newTestWizard(t, &fakeProvider{}, &fakeSink{})
	ctx := context.Background()
	w.Next(ctx)
	w.SelectMode(ctx, media.ModeAudio)

	var terr *TransitionError
	if err := w.RetryPermission(ctx); !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransitionError", err)
	}
}

func TestDeviceUnavailableShownInline(t *testing.T) {
	p := &fakeProvider{granted: true}
	w, _ := newTestWizard(t, p, &fakeSink{})
	ctx := context.Background()
	w.Next(ctx)

	p.mu.Lock()
	p.startErr = media.ErrDeviceUnavailable
	p.mu.Unlock()
	if err := w.SelectMode(ctx, media.ModeAudio); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepTest)

	err := w.StartRecording(ctx)
	if !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Fatalf("StartRecording err = %v", err)
	}
	snap := w.Snapshot()
	if snap.Step != StepTest || !errors.Is(snap.DeviceError, media.ErrDeviceUnavailable) {
		t.Fatalf("step=%s deviceErr=%v", snap.Step, snap.DeviceError)
	}
	if err := w.StartRecording(ctx); !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Errorf("second start err = %v, want the inline error again", err)
	}
}

func TestMediaUndefinedUntilReview(t *testing.T) {
	p := &fakeProvider{}
	w, _ := newTestWizard(t, p, &fakeSink{})
	ctx := context.Background()

	check := func(label string) {
		t.Helper()
		if w.Snapshot().HasMedia() {
			t.Fatalf("%s: media reference set before review", label)
		}
	}
	check("prompt")
	w.Next(ctx)
	check("mode")
	w.SelectMode(ctx, media.ModeVideo)
	check("permission")
	w.RequestPermission(ctx)
	check("test")
	w.OpenSettings()
	check("settings")
	w.CloseSettings()
	w.StartRecording(ctx)
	w.Tick()
	check("recording")
	w.Pause()
	check("paused")
	w.Back(ctx)
	check("back to test")

	record(t, w, 2)
	if !w.Snapshot().HasMedia() {
		t.Fatal("review without media reference")
	}
	if err := w.ChangeMode(); err != nil {
		t.Fatal(err)
	}
	check("mode after change")
}

func TestTracksReleasedOnExit(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		// leave moves the wizard out of a live step
		leave func(w *Wizard) error
		want  Step
		live  int
	}{
		{"test back to mode", func(w *Wizard) error { return w.Back(ctx) }, StepMode, 0},
		{"test change mode", func(w *Wizard) error { return w.ChangeMode() }, StepMode, 0},
		{"test into settings", func(w *Wizard) error { return w.OpenSettings() }, StepSettings, 1},
		{"test into recording", func(w *Wizard) error { return w.StartRecording(ctx) }, StepRecording, 1},
		{"recording to review", func(w *Wizard) error {
			if err := w.StartRecording(ctx); err != nil {
				return err
			}
			return w.StopRecording(ctx)
		}, StepReview, 0},
		{"recording back to test", func(w *Wizard) error {
			if err := w.StartRecording(ctx); err != nil {
				return err
			}
			return w.Back(ctx)
		}, StepTest, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{}
			w, _ := newTestWizard(t, p, &fakeSink{})
			toTest(t, w, media.ModeVideo)
			if err := tt.leave(w); err != nil {
				t.Fatal(err)
			}
			mustStep(t, w, tt.want)
			if got := p.liveStreams(); got != tt.live {
				t.Errorf("live streams = %d, want %d", got, tt.live)
			}
		})
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	p := &fakeProvider{}
	w, _ := newTestWizard(t, p, &fakeSink{})
	toTest(t, w, media.ModeVideo)
	if err := w.StartRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Close()
	if n := p.liveStreams(); n != 0 {
		t.Fatalf("%d streams live after Close", n)
	}
	if p.clears == 0 {
		t.Error("partial capture not cleared")
	}
	if err := w.Pause(); !errors.Is(err, ErrClosed) {
		t.Errorf("Pause after Close = %v, want ErrClosed", err)
	}
	w.Close()
}

func TestPauseHaltsTimer(t *testing.T) {
	p := &fakeProvider{}
	w, _ := newTestWizard(t, p, &fakeSink{})
	toTest(t, w, media.ModeAudio)
	if err := w.StartRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Tick()
	w.Tick()
	if err := w.Pause(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		w.Tick()
	}
	if err := w.Resume(); err != nil {
		t.Fatal(err)
	}
	if got := w.Snapshot().Elapsed; got != 2 {
		t.Fatalf("elapsed = %d, want 2", got)
	}
	w.Tick()
	if got := w.Snapshot().Elapsed; got != 3 {
		t.Fatalf("elapsed after resume tick = %d, want 3", got)
	}
	if p.pauses != 1 || p.resumes != 1 {
		t.Errorf("provider pauses=%d resumes=%d", p.pauses, p.resumes)
	}

	// Pausing twice is a no-op.
	w.TogglePause()
	w.Pause()
	if p.pauses != 2 {
		t.Errorf("pauses = %d, want 2", p.pauses)
	}
}

func TestResumeFailureStaysPaused(t *testing.T) {
	p := &fakeProvider{}
	w, _ := newTestWizard(t, p, &fakeSink{})
	toTest(t, w, media.ModeVideo)
	if err := w.StartRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Tick()
	if err := w.Pause(); err != nil {
		t.Fatal(err)
	}

	unplugged := fmt.Errorf("no camera found: %w", media.ErrDeviceUnavailable)
	p.mu.Lock()
	p.resumeErr = unplugged
	p.mu.Unlock()
	if err := w.Resume(); !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Fatalf("Resume = %v, want ErrDeviceUnavailable", err)
	}
	snap := w.Snapshot()
	if snap.Step != StepRecording || !snap.Paused || !errors.Is(snap.DeviceError, media.ErrDeviceUnavailable) {
		t.Fatalf("after failed resume: step=%s paused=%v device=%v", snap.Step, snap.Paused, snap.DeviceError)
	}
	w.Tick()
	if got := w.Snapshot().Elapsed; got != 1 {
		t.Errorf("elapsed = %d, want the timer held at 1", got)
	}

	p.mu.Lock()
	p.resumeErr = nil
	p.mu.Unlock()
	if err := w.Resume(); err != nil {
		t.Fatalf("Resume after replug: %v", err)
	}
	if snap := w.Snapshot(); snap.Paused || snap.DeviceError != nil {
		t.Errorf("after replug: paused=%v device=%v", snap.Paused, snap.DeviceError)
	}
}

func TestPauseOutsideRecording(t *testing.T) {
	w, _ := newTestWizard(t, &fakeProvider{}, &fakeSink{})
	var terr *TransitionError
	if err := w.Pause(); !errors.As(err, &terr) || terr.Step != StepPrompt {
		t.Fatalf("err = %v", err)
	}
}

func TestRecordAgainClearsMedia(t *testing.T) {
	p := &fakeProvider{}
	w, _ := newTestWizard(t, p, &fakeSink{})
	toTest(t, w, media.ModeVideo)
	record(t, w, 3)
	first := w.Snapshot().Media

	clears := p.clears
	if err := w.RecordAgain(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := w.Snapshot()
	if snap.Step != StepRecording || snap.HasMedia() || snap.Elapsed != 0 {
		t.Fatalf("step=%s media=%v elapsed=%d", snap.Step, snap.Media, snap.Elapsed)
	}
	if p.clears != clears+1 {
		t.Errorf("provider not cleared before restart")
	}
	w.Tick()
	if err := w.StopRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w.Snapshot().Media.ID == first.ID {
		t.Error("second recording reuses the first reference")
	}
}

func TestSubmissionFailureKeepsMedia(t *testing.T) {
	p := &fakeProvider{}
	s := &fakeSink{errs: []error{errUpstream}}
	w, _ := newTestWizard(t, p, s)
	ctx := context.Background()
	toTest(t, w, media.ModeAudio)
	record(t, w, 4)
	ref := w.Snapshot().Media

	err := w.Submit(ctx)
	var serr *SubmissionError
	if !errors.As(err, &serr) || !errors.Is(err, errUpstream) {
		t.Fatalf("Submit err = %v", err)
	}
	snap := w.Snapshot()
	if snap.Step != StepReview || snap.Sending != SendingIdle {
		t.Fatalf("got %s/%s, want review/idle", snap.Step, snap.Sending)
	}
	if diff := cmp.Diff(ref, snap.Media); diff != "" {
		t.Fatalf("media changed (-want +got):\n%s", diff)
	}
	if !errors.As(snap.LastError, &serr) {
		t.Errorf("LastError = %v", snap.LastError)
	}

	if err := w.Submit(ctx); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	mustStep(t, w, StepDone)
	if len(s.calls) != 2 || s.calls[1].Media != ref {
		t.Errorf("resubmission did not reuse the reference: %+v", s.calls)
	}
}

func TestResetKeepsPromptAndContributor(t *testing.T) {
	w, _ := newTestWizard(t, &fakeProvider{}, &fakeSink{})
	toTest(t, w, media.ModeAudio)
	record(t, w, 1)
	if err := w.Reset(); err == nil {
		t.Fatal("Reset allowed before done")
	}
	first := w.Snapshot().ID
	if err := w.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Reset(); err != nil {
		t.Fatal(err)
	}
	snap := w.Snapshot()
	if snap.Step != StepPrompt || snap.HasMedia() || snap.Sending != SendingIdle || snap.Elapsed != 0 {
		t.Fatalf("not reset: %+v", snap)
	}
	if snap.ID == first {
		t.Error("session id reused")
	}
	if snap.Prompt != testPrompt || snap.Contributor != testPerson {
		t.Error("prompt or contributor lost")
	}
}

func TestBusyRejectsSecondAction(t *testing.T) {
	p := &fakeProvider{granted: true, block: make(chan struct{})}
	w, _ := newTestWizard(t, p, &fakeSink{})
	ctx := context.Background()
	w.Next(ctx)

	done := make(chan error, 1)
	go func() { done <- w.SelectMode(ctx, media.ModeAudio) }()

	deadline := time.Now().Add(2 * time.Second)
	for !w.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("wizard never became busy")
		}
		time.Sleep(time.Millisecond)
	}
	if err := w.Back(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("Back while busy = %v, want ErrBusy", err)
	}
	if err := w.SelectMode(ctx, media.ModeVideo); !errors.Is(err, ErrBusy) {
		t.Errorf("SelectMode while busy = %v, want ErrBusy", err)
	}

	close(p.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepTest)
}

func TestBackTransitions(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	w, _ := newTestWizard(t, p, &fakeSink{})

	if err := w.Back(ctx); err == nil {
		t.Fatal("Back from prompt succeeded")
	}
	toTest(t, w, media.ModeVideo)
	w.OpenSettings()
	if err := w.Back(ctx); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepTest)

	record(t, w, 1)
	if err := w.Back(ctx); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepTest)
	if w.Snapshot().HasMedia() {
		t.Error("review → test kept the reference")
	}

	w.Back(ctx)
	mustStep(t, w, StepMode)
	w.Back(ctx)
	mustStep(t, w, StepPrompt)
}

func TestApplySettingsReopensPreview(t *testing.T) {
	p := &fakeProvider{granted: true}
	w, _ := newTestWizard(t, p, &fakeSink{})
	toTest(t, w, media.ModeVideo)
	w.OpenSettings()

	s := media.Settings{Microphone: "mic1", Camera: "cam0", Quality: media.Quality720p}
	if err := w.ApplySettings(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	snap := w.Snapshot()
	if snap.Step != StepSettings || snap.Settings != s {
		t.Fatalf("step=%s settings=%+v", snap.Step, snap.Settings)
	}
	if got := p.liveStreams(); got != 1 {
		t.Errorf("live streams = %d, want 1", got)
	}
	if len(p.acquires) != 2 {
		t.Errorf("acquires = %d, want 2", len(p.acquires))
	}
}

func TestSelectModeInvalid(t *testing.T) {
	w, _ := newTestWizard(t, &fakeProvider{}, &fakeSink{})
	w.Next(context.Background())
	if err := w.SelectMode(context.Background(), media.Mode("hologram")); err == nil {
		t.Fatal("unknown mode accepted")
	}
	mustStep(t, w, StepMode)
}
