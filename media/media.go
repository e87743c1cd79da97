// Package media holds the value types shared by the wizard, the capture
// provider and the submission sinks.
package media

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPermissionDenied reports that the user or the OS refused device access.
	ErrPermissionDenied = errors.New("device access denied")
	// ErrDeviceUnavailable reports that no compatible input device exists.
	ErrDeviceUnavailable = errors.New("no compatible input device")
)

type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAudio, ModeVideo:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (use audio or video)", s)
}

// Kinds returns the device kinds a capture in this mode needs.
func (m Mode) Kinds() []Kind {
	if m == ModeVideo {
		return []Kind{KindAudioInput, KindVideoInput}
	}
	return []Kind{KindAudioInput}
}

type Kind string

const (
	KindAudioInput Kind = "audioinput"
	KindVideoInput Kind = "videoinput"
)

type Quality string

const (
	Quality720p  Quality = "720p"
	Quality1080p Quality = "1080p"
	Quality2160p Quality = "2160p"
)

func ParseQuality(s string) (Quality, error) {
	switch Quality(s) {
	case Quality720p, Quality1080p, Quality2160p:
		return Quality(s), nil
	case "":
		return Quality1080p, nil
	}
	return "", fmt.Errorf("unknown quality %q (use 720p, 1080p or 2160p)", s)
}

// FrameSize returns the capture resolution for q. Unknown values fall back to 1080p.
func (q Quality) FrameSize() (width, height int) {
	switch q {
	case Quality720p:
		return 1280, 720
	case Quality2160p:
		return 3840, 2160
	default:
		return 1920, 1080
	}
}

func (q Quality) Label() string {
	switch q {
	case Quality720p:
		return "HD"
	case Quality2160p:
		return "4K"
	default:
		return "Full HD"
	}
}

// Settings selects capture devices. Empty IDs mean the system default.
type Settings struct {
	Microphone string
	Camera     string
	Quality    Quality
}

// Device is one enumerated input. Label stays empty until access to the
// device kind has been granted.
type Device struct {
	Kind  Kind
	ID    string
	Label string
}

// Track is a single live input inside a Stream.
type Track interface {
	Kind() Kind
	Label() string
	Live() bool
}

// Stream is a live capture feed. Stop releases every track and is safe to
// call more than once.
type Stream interface {
	Mode() Mode
	Tracks() []Track
	Level() float64
	Stop()
}

// Live reports whether any track of s is still open.
func Live(s Stream) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks() {
		if t.Live() {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusAcquiring Status = "acquiring"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Ref is an opaque, playable handle to a finished recording. It stays valid
// until the provider clears it.
type Ref struct {
	ID        string
	Mode      Mode
	Path      string
	Format    string
	Duration  time.Duration
	Size      int64
	CreatedAt time.Time
}

func (r Ref) IsZero() bool { return r.ID == "" }
