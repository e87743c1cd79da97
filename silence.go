package main

import (
	"time"

	"storybooth/capture"
	"storybooth/log"
	"storybooth/playback"
	"storybooth/wizard"
)

const (
	tickInterval        = 100 * time.Millisecond
	ticksPerSecond      = int(time.Second / tickInterval)
	silenceWarnEvery    = 8 * time.Second
	silenceAutoPauseDur = 30 * time.Second
	speechMinRatio      = 0.10
	speechClearRatio    = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
	SilenceRepeat                 // repeat chime (every 8s)
	SilenceAutoPause              // 30s of silence while recording
)

func (e SilenceEvent) String() string {
	switch e {
	case SilenceWarn:
		return "warn"
	case SilenceWarnClear:
		return "clear"
	case SilenceRepeat:
		return "repeat"
	case SilenceAutoPause:
		return "auto_pause"
	default:
		return "none"
	}
}

type silenceMonitor struct {
	warnAt   int
	windowSz int

	// autoPause enables the repeat chime and the auto-pause.
	autoPause func() bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastBeep    int
}

func newSilenceMonitor(autoPause func() bool) *silenceMonitor {
	warnAt := int(silenceWarnEvery / tickInterval)
	windowSz := int(silenceAutoPauseDur / tickInterval)
	return &silenceMonitor{
		warnAt:    warnAt,
		windowSz:  windowSz,
		autoPause: autoPause,
		window:    make([]bool, windowSz),
	}
}

func (m *silenceMonitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)

	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastBeep = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}

	if !m.autoPause() {
		return SilenceNone
	}

	// checked before repeat
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return SilenceAutoPause
	}

	if m.warned && m.ticks-m.lastBeep >= m.warnAt {
		m.lastBeep = m.ticks
		return SilenceRepeat
	}

	return SilenceNone
}

// heartbeat is sampled every tickInterval by whichever front end drives the
// wizard. It advances the recording timer once per second of running capture
// and watches the input level while the test preview or a recording is open.
type heartbeat struct {
	w      *wizard.Wizard
	mon    *silenceMonitor
	ticks  int
	step   wizard.Step
	paused bool
}

type beat struct {
	Session wizard.Session
	Level   float64
	Silence SilenceEvent
}

func newHeartbeat(w *wizard.Wizard) *heartbeat {
	return &heartbeat{w: w, step: -1}
}

func (h *heartbeat) Beat() beat {
	s := h.w.Snapshot()
	if s.Step != h.step || s.Paused != h.paused {
		h.step, h.paused = s.Step, s.Paused
		h.ticks = 0
		h.mon = nil
	}
	h.ticks++
	running := s.Step == wizard.StepRecording && !s.Paused
	if running && h.ticks%ticksPerSecond == 0 {
		h.w.Tick()
		s = h.w.Snapshot()
	}

	b := beat{Session: s, Level: h.w.Level()}
	if s.Step != wizard.StepTest && !running {
		return b
	}
	if h.mon == nil {
		recording := running
		h.mon = newSilenceMonitor(func() bool { return recording })
	}
	b.Silence = h.mon.Tick(b.Level >= capture.SpeechLevel)
	h.react(b)
	return b
}

func (h *heartbeat) react(b beat) {
	switch b.Silence {
	case SilenceWarn:
		log.Info("no_voice_warning: " + b.Session.Step.String())
		if b.Session.Step == wizard.StepRecording {
			playback.PlayError()
		}
	case SilenceRepeat:
		log.Info("silence_during_warning")
		playback.PlayError()
	case SilenceAutoPause:
		log.Info("silence_auto_pause")
		if err := h.w.Pause(); err != nil {
			log.Warnf("auto pause: %v", err)
		}
	}
}
