// Package capture is the media capture provider: microphone input through the
// OS audio stack, camera input through ffmpeg, and the Recorder that turns
// both into previews and finished recordings.
package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"storybooth/media"
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives S16LE mono frames.
type DataCallback func(data []byte, frameCount uint32)

type Config struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

// Context is an audio backend.
type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config Config) (Device, error)
	Close()
}

// Device is one opened microphone.
type Device interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

var deniedHints = []string{"access denied", "not authorized", "permission", "not permitted"}

// classify maps a backend error onto media.ErrPermissionDenied or
// media.ErrDeviceUnavailable, keeping the original message.
func classify(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, media.ErrPermissionDenied) || errors.Is(err, media.ErrDeviceUnavailable) {
		return fmt.Errorf("%s: %w", what, err)
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s: %w: %v", what, media.ErrPermissionDenied, err)
	}
	lower := strings.ToLower(err.Error())
	for _, h := range deniedHints {
		if strings.Contains(lower, h) {
			return fmt.Errorf("%s: %w: %v", what, media.ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", what, media.ErrDeviceUnavailable, err)
}

func findDevice(devices []DeviceInfo, id string) *DeviceInfo {
	if id == "" {
		return nil
	}
	for i := range devices {
		if devices[i].ID == id || devices[i].Name == id {
			return &devices[i]
		}
	}
	return nil
}
