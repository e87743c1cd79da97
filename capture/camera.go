package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"storybooth/log"
	"storybooth/media"
)

// VideoSource opens camera feeds. Preview keeps the camera live without
// writing anything. Segment records one running interval to path, and Join
// stitches the segments together with the finished audio track.
type VideoSource interface {
	Devices(ctx context.Context) ([]DeviceInfo, error)
	Preview(ctx context.Context, device string, q media.Quality) (Feed, error)
	Segment(ctx context.Context, device string, q media.Quality, path string) (Feed, error)
	Join(ctx context.Context, segments []string, audioPath, out string) error
}

// Feed is a running camera process.
type Feed interface {
	Stop() error
}

const (
	frameRate = 30
	// how long a new ffmpeg process gets to fail on a bad device
	startupGrace = 400 * time.Millisecond
	stopTimeout  = 5 * time.Second
)

func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found. Install it from https://ffmpeg.org or your package manager")
	}
	return nil
}

// FFmpegCamera drives the platform camera through the ffmpeg binary.
type FFmpegCamera struct {
	Binary string
}

func NewFFmpegCamera() *FFmpegCamera {
	return &FFmpegCamera{Binary: "ffmpeg"}
}

func (c *FFmpegCamera) Devices(ctx context.Context) ([]DeviceInfo, error) {
	return listCameras(ctx, c.Binary)
}

func (c *FFmpegCamera) Preview(ctx context.Context, device string, q media.Quality) (Feed, error) {
	args := append(inputArgs(device, q), "-f", "null", "-")
	return c.start(device, args)
}

func (c *FFmpegCamera) Segment(ctx context.Context, device string, q media.Quality, path string) (Feed, error) {
	args := append(inputArgs(device, q),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-an",
		"-y",
		path,
	)
	return c.start(device, args)
}

func (c *FFmpegCamera) Join(ctx context.Context, segments []string, audioPath, out string) error {
	if len(segments) == 0 {
		return fmt.Errorf("join: no video segments")
	}
	list := out + ".segments.txt"
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(s, "'", `'\''`))
	}
	if err := os.WriteFile(list, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	defer os.Remove(list)

	args := []string{"-hide_banner", "-f", "concat", "-safe", "0", "-i", list}
	if audioPath != "" {
		args = append(args, "-i", audioPath, "-map", "0:v", "-map", "1:a")
	}
	args = append(args, "-c", "copy", "-y", out)

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("joining segments: %w\n%s", err, string(output))
	}
	return nil
}

func (c *FFmpegCamera) start(device string, args []string) (Feed, error) {
	if err := checkCameraAccess(device); err != nil {
		return nil, err
	}
	// stdin stays open: writing "q" ends a recording cleanly
	cmd := exec.Command(c.Binary, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	f := &ffmpegFeed{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	cmd.Stderr = &f.stderr
	if err := cmd.Start(); err != nil {
		return nil, classify("start ffmpeg", err)
	}
	go func() {
		f.err = cmd.Wait()
		close(f.done)
	}()

	select {
	case <-f.done:
		return nil, classify("camera "+device, fmt.Errorf("%v: %s", f.err, strings.TrimSpace(f.stderr.String())))
	case <-time.After(startupGrace):
	}
	log.Infof("camera started: %s", strings.Join(cmd.Args, " "))
	return f, nil
}

type ffmpegFeed struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	done   chan struct{}
	err    error

	once    sync.Once
	stopErr error
}

// Stop asks ffmpeg to finish the file and kills it if it does not exit in time.
func (f *ffmpegFeed) Stop() error {
	f.once.Do(func() {
		_, _ = io.WriteString(f.stdin, "q")
		f.stdin.Close()
		select {
		case <-f.done:
		case <-time.After(stopTimeout):
			f.cmd.Process.Kill()
			<-f.done
			f.stopErr = fmt.Errorf("ffmpeg did not stop within %s", stopTimeout)
		}
	})
	return f.stopErr
}

func videoSize(q media.Quality) string {
	w, h := q.FrameSize()
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}
