package capture

import (
	"context"
	"fmt"
	"os"
	"sync"

	"storybooth/media"
)

// FakeCamera stands in for ffmpeg. Segments are small text files and Join
// concatenates them after the audio bytes.
type FakeCamera struct {
	mu      sync.Mutex
	deny    bool
	missing bool
	open    int
}

func (c *FakeCamera) SetDeny(deny bool) {
	c.mu.Lock()
	c.deny = deny
	c.mu.Unlock()
}

func (c *FakeCamera) SetMissing(missing bool) {
	c.mu.Lock()
	c.missing = missing
	c.mu.Unlock()
}

// Open returns how many feeds are running.
func (c *FakeCamera) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *FakeCamera) Devices(context.Context) ([]DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.missing {
		return nil, nil
	}
	return []DeviceInfo{{ID: "fakecam", Name: "Fake Camera"}}, nil
}

func (c *FakeCamera) check() error {
	switch {
	case c.missing:
		return fmt.Errorf("fake camera: %w", media.ErrDeviceUnavailable)
	case c.deny:
		return fmt.Errorf("fake camera: %w", media.ErrPermissionDenied)
	}
	return nil
}

func (c *FakeCamera) Preview(_ context.Context, _ string, _ media.Quality) (Feed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	c.open++
	return &fakeFeed{cam: c}, nil
}

func (c *FakeCamera) Segment(_ context.Context, _ string, q media.Quality, path string) (Feed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte("segment "+string(q)+"\n"), 0644); err != nil {
		return nil, err
	}
	c.open++
	return &fakeFeed{cam: c}, nil
}

func (c *FakeCamera) Join(_ context.Context, segments []string, audioPath, out string) error {
	if len(segments) == 0 {
		return fmt.Errorf("join: no video segments")
	}
	var data []byte
	for _, s := range segments {
		b, err := os.ReadFile(s)
		if err != nil {
			return err
		}
		data = append(data, b...)
	}
	if audioPath != "" {
		b, err := os.ReadFile(audioPath)
		if err != nil {
			return err
		}
		data = append(data, b...)
	}
	return os.WriteFile(out, data, 0644)
}

type fakeFeed struct {
	cam  *FakeCamera
	once sync.Once
}

func (f *fakeFeed) Stop() error {
	f.once.Do(func() {
		f.cam.mu.Lock()
		f.cam.open--
		f.cam.mu.Unlock()
	})
	return nil
}
