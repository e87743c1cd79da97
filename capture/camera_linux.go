//go:build linux

package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"storybooth/media"
)

const defaultCamera = "/dev/video0"

func listCameras(_ context.Context, _ string) ([]DeviceInfo, error) {
	nodes, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(nodes)
	var devices []DeviceInfo
	for _, n := range nodes {
		name := filepath.Base(n)
		label := name
		if b, err := os.ReadFile(filepath.Join("/sys/class/video4linux", name, "name")); err == nil {
			label = strings.TrimSpace(string(b))
		}
		// metadata nodes of UVC cameras have no capture capability
		if idx, err := os.ReadFile(filepath.Join("/sys/class/video4linux", name, "index")); err == nil && strings.TrimSpace(string(idx)) != "0" {
			continue
		}
		devices = append(devices, DeviceInfo{ID: n, Name: label})
	}
	return devices, nil
}

func inputArgs(device string, q media.Quality) []string {
	if device == "" {
		device = defaultCamera
	}
	return []string{
		"-f", "v4l2",
		"-framerate", fmt.Sprint(frameRate),
		"-video_size", videoSize(q),
		"-i", device,
	}
}

// checkCameraAccess opens the device node so a missing video group
// membership surfaces as a permission error instead of an ffmpeg failure.
func checkCameraAccess(device string) error {
	if device == "" {
		device = defaultCamera
	}
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("camera %s: %w", device, media.ErrDeviceUnavailable)
		}
		return classify("camera "+device, err)
	}
	return f.Close()
}
