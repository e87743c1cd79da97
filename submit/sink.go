// Package submit stores finished recordings: over HTTP, in a local outbox
// directory, or nowhere at all after a fixed delay.
package submit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"storybooth/story"
)

type Sink interface {
	Name() string
	Submit(ctx context.Context, sub story.Submission) (story.Receipt, error)
}

type Config struct {
	// Kind is "http", "outbox" or "delay".
	Kind      string
	URL       string
	Token     string
	OutboxDir string
	Delay     time.Duration
	MaxTries  uint
}

// New picks the sink for cfg. An empty kind chooses http when a URL is set,
// otherwise the outbox.
func New(cfg Config) (Sink, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = "outbox"
		if cfg.URL != "" {
			kind = "http"
		}
	}
	switch kind {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http sink needs a URL")
		}
		return NewHTTP(HTTPOptions{URL: cfg.URL, Token: cfg.Token, MaxTries: cfg.MaxTries}), nil
	case "outbox":
		if cfg.OutboxDir == "" {
			return nil, fmt.Errorf("outbox sink needs a directory")
		}
		return NewOutbox(cfg.OutboxDir), nil
	case "delay":
		return NewDelay(cfg.Delay), nil
	}
	return nil, fmt.Errorf("unknown sink %q (use http, outbox or delay)", kind)
}

// StatusError is a rejected upload.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink rejected upload: %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// Temporary reports whether the same upload may succeed later.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}
