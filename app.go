package main

import (
	"fmt"
	"sync/atomic"

	"github.com/atotto/clipboard"

	"storybooth/capture"
	"storybooth/config"
	"storybooth/dialog"
	"storybooth/log"
	"storybooth/playback"
	"storybooth/story"
	"storybooth/submit"
	"storybooth/wizard"
)

// app is one run of the record command: the wizard and everything it talks to.
type app struct {
	cfg     *config.Config
	prompt  story.Prompt
	wizard  *wizard.Wizard
	rec     *capture.Recorder
	sink    submit.Sink
	dialogs *dialog.Dispatcher

	// clipboard copies receipt links on done
	clipboard bool

	events    chan wizard.Event
	done      chan struct{}
	submitted atomic.Int32
	copied    atomic.Bool
}

type appDeps struct {
	Audio  capture.Context
	Camera capture.VideoSource // nil disables video stories
	Sink   submit.Sink
}

func newApp(cfg *config.Config, p story.Prompt, deps appDeps) *app {
	a := &app{
		cfg:       cfg,
		prompt:    p,
		sink:      deps.Sink,
		dialogs:   &dialog.Dispatcher{},
		clipboard: !clipboard.Unsupported,
		events:    make(chan wizard.Event, 64),
		done:      make(chan struct{}),
	}
	a.rec = capture.NewRecorder(capture.Options{
		Audio:  deps.Audio,
		Camera: deps.Camera,
		Grants: capture.LoadGrants(cfg.StateDir()),
		Dir:    cfg.TakesDir(),
	})
	a.wizard = wizard.New(a.rec, deps.Sink,
		wizard.WithSettings(cfg.Settings()),
		wizard.WithObserver(a.onEvent),
	)
	return a
}

func (a *app) onEvent(ev wizard.Event) {
	switch {
	case ev.To == wizard.StepRecording && ev.From != wizard.StepRecording:
		playback.PlayStart()
	case ev.From == wizard.StepRecording && ev.To == wizard.StepReview:
		playback.PlayEnd()
	case ev.To == wizard.StepPermission && ev.Session.PermissionError:
		playback.PlayError()
	case ev.To == wizard.StepReview && ev.From == wizard.StepSending:
		playback.PlayError()
	case ev.To == wizard.StepDone:
		a.submitted.Add(1)
		a.copied.Store(a.copyReceipt(ev.Session.Receipt.URL))
	}

	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func (a *app) copyReceipt(url string) bool {
	if !a.clipboard || url == "" {
		return false
	}
	if err := clipboard.WriteAll(url); err != nil {
		log.Warnf("copy receipt link: %v", err)
		return false
	}
	return true
}

// welcome opens the identification form. onIdentified runs with the
// normalized contributor, or not at all when the form is cancelled.
func (a *app) welcome(onIdentified func(story.Contributor), onCancel func()) error {
	greeting := fmt.Sprintf("Welcome! Before you answer %q, tell us who you are.", a.prompt.Text)
	return a.dialogs.Show(dialog.Welcome{Greeting: greeting}, func(r dialog.Response) {
		id := r.(dialog.Identified)
		if id.Cancelled {
			onCancel()
			return
		}
		onIdentified(id.Contributor)
	})
}

func (a *app) begin(c story.Contributor) error {
	if err := a.wizard.Begin(a.prompt, c); err != nil {
		return err
	}
	log.SessionStart(a.prompt.ID, a.sink.Name())
	return nil
}

// close releases every device and stops event delivery. Takes that were
// never submitted are removed.
func (a *app) close() {
	select {
	case <-a.done:
		return
	default:
		close(a.done)
	}
	a.wizard.Close()
	a.rec.Clear()
	log.SessionEnd(int(a.submitted.Load()))
}
