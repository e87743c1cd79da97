package submit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storybooth/story"
)

// FakeSink fails with the queued errors, in order, then succeeds.
type FakeSink struct {
	mu    sync.Mutex
	errs  []error
	calls []story.Submission
}

func NewFake(errs ...error) *FakeSink {
	return &FakeSink{errs: errs}
}

func (f *FakeSink) Name() string { return "fake" }

func (f *FakeSink) Submit(_ context.Context, sub story.Submission) (story.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sub)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return story.Receipt{}, fmt.Errorf("fake sink error: %w", err)
		}
	}
	return story.Receipt{ID: fmt.Sprintf("fake-%d", len(f.calls)), At: time.Now()}, nil
}

func (f *FakeSink) Calls() []story.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]story.Submission(nil), f.calls...)
}
