package submit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storybooth/story"
)

const DefaultDelay = 2 * time.Second

// DelaySink accepts everything after a fixed delay and stores nothing.
type DelaySink struct {
	delay time.Duration
}

func NewDelay(d time.Duration) *DelaySink {
	if d <= 0 {
		d = DefaultDelay
	}
	return &DelaySink{delay: d}
}

func (s *DelaySink) Name() string { return "delay" }

func (s *DelaySink) Submit(ctx context.Context, sub story.Submission) (story.Receipt, error) {
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return story.Receipt{}, ctx.Err()
	case <-t.C:
	}
	return story.Receipt{ID: uuid.NewString(), At: time.Now()}, nil
}
