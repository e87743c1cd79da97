//go:build !linux

package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	"storybooth/media"
)

var (
	avfDevice   = regexp.MustCompile(`\[(\d+)\] (.+)$`)
	dshowDevice = regexp.MustCompile(`"([^"]+)" \(video\)`)
)

// listCameras parses the device listing ffmpeg prints to stderr.
func listCameras(ctx context.Context, binary string) ([]DeviceInfo, error) {
	var args []string
	switch runtime.GOOS {
	case "darwin":
		args = []string{"-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""}
	case "windows":
		args = []string{"-hide_banner", "-list_devices", "true", "-f", "dshow", "-i", "dummy"}
	default:
		return nil, fmt.Errorf("camera capture is not supported on %s", runtime.GOOS)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	// ffmpeg exits non-zero after listing; only a missing binary matters
	if err := cmd.Run(); err != nil && stderr.Len() == 0 {
		return nil, err
	}
	return parseCameraList(runtime.GOOS, stderr.String()), nil
}

func parseCameraList(goos, out string) []DeviceInfo {
	var devices []DeviceInfo
	inVideo := goos != "darwin"
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		switch goos {
		case "darwin":
			if strings.Contains(line, "video devices:") {
				inVideo = true
				continue
			}
			if strings.Contains(line, "audio devices:") {
				inVideo = false
				continue
			}
			if m := avfDevice.FindStringSubmatch(line); inVideo && m != nil {
				if strings.HasPrefix(m[2], "Capture screen") {
					continue
				}
				devices = append(devices, DeviceInfo{ID: m[1], Name: m[2]})
			}
		default:
			if m := dshowDevice.FindStringSubmatch(line); m != nil {
				devices = append(devices, DeviceInfo{ID: m[1], Name: m[1]})
			}
		}
	}
	return devices
}

func inputArgs(device string, q media.Quality) []string {
	if runtime.GOOS == "windows" {
		return []string{
			"-f", "dshow",
			"-video_size", videoSize(q),
			"-framerate", fmt.Sprint(frameRate),
			"-i", "video=" + device,
		}
	}
	if device == "" {
		device = "0"
	}
	return []string{
		"-f", "avfoundation",
		"-framerate", fmt.Sprint(frameRate),
		"-video_size", videoSize(q),
		"-i", device + ":none",
	}
}

// Access is checked by the OS when ffmpeg opens the camera; a refusal shows
// up in its stderr and is classified there.
func checkCameraAccess(string) error { return nil }
