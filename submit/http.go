package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"storybooth/log"
	"storybooth/story"
)

const defaultMaxTries = 4

type HTTPOptions struct {
	URL      string
	Token    string
	MaxTries uint
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

// HTTPSink uploads the recording as multipart/form-data. Transport errors,
// 429 and 5xx responses are retried with exponential backoff; other 4xx
// responses fail at once.
type HTTPSink struct {
	client *TracedClient
	opts   HTTPOptions
}

func NewHTTP(opts HTTPOptions) *HTTPSink {
	if opts.MaxTries == 0 {
		opts.MaxTries = defaultMaxTries
	}
	if opts.InitialInterval == 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	return &HTTPSink{client: NewTracedClient(), opts: opts}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Client() *TracedClient { return s.client }

type httpReceipt struct {
	ID  string    `json:"id"`
	URL string    `json:"url"`
	At  time.Time `json:"created_at"`
}

func (s *HTTPSink) Submit(ctx context.Context, sub story.Submission) (story.Receipt, error) {
	info, err := os.Stat(sub.Media.Path)
	if err != nil {
		return story.Receipt{}, fmt.Errorf("open recording: %w", err)
	}

	attempts := 0
	var last *NetworkMetrics
	op := func() (story.Receipt, error) {
		attempts++
		f, err := os.Open(sub.Media.Path)
		if err != nil {
			return story.Receipt{}, backoff.Permanent(fmt.Errorf("open recording: %w", err))
		}
		body, contentType := streamForm(f, sub)
		defer body.Close()

		req, err := http.NewRequestWithContext(ctx, "POST", s.opts.URL, body)
		if err != nil {
			return story.Receipt{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Idempotency-Key", sub.SessionID+"/"+sub.Media.ID)
		if s.opts.Token != "" {
			req.Header.Set("Authorization", "Bearer "+s.opts.Token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return story.Receipt{}, backoff.Permanent(ctx.Err())
			}
			return story.Receipt{}, err
		}
		last = resp.Metrics

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(resp.Body))}
			if !serr.Temporary() {
				return story.Receipt{}, backoff.Permanent(serr)
			}
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				log.Warnf("sink busy, retrying after %ds", secs)
				return story.Receipt{}, backoff.RetryAfter(secs)
			}
			return story.Receipt{}, serr
		}

		var r httpReceipt
		if err := json.Unmarshal(resp.Body, &r); err != nil {
			return story.Receipt{}, backoff.Permanent(fmt.Errorf("sink response parse error: %w", err))
		}
		if r.ID == "" {
			return story.Receipt{}, backoff.Permanent(fmt.Errorf("sink response has no id"))
		}
		if r.At.IsZero() {
			r.At = time.Now()
		}
		return story.Receipt{ID: r.ID, URL: r.URL, At: r.At}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	receipt, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warnf("upload attempt %d failed: %v (retrying in %s)", attempts, err, next.Round(time.Millisecond))
		}),
	)

	m := log.SubmissionMetrics{
		Sink:     s.Name(),
		Mode:     string(sub.Media.Mode),
		MediaS:   sub.Media.Duration.Seconds(),
		SizeKB:   float64(info.Size()) / 1024,
		Attempts: attempts,
	}
	if last != nil {
		m.DNSMs = ms(last.DNS)
		m.TLSMs = ms(last.TLS)
		m.TTFBMs = ms(last.TTFB)
		m.TotalMs = ms(last.Total)
		m.ConnReused = last.ConnReused
	}
	log.Submission(m)

	if err != nil {
		return story.Receipt{}, fmt.Errorf("upload after %d attempt(s): %w", attempts, err)
	}
	return receipt, nil
}

// streamForm produces the multipart body through a pipe so the recording is
// read from disk as the request is written. f is closed once the body is done.
func streamForm(f *os.File, sub story.Submission) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		pw.CloseWithError(writeForm(writer, f, sub))
	}()
	return pr, writer.FormDataContentType()
}

func writeForm(writer *multipart.Writer, f io.Reader, sub story.Submission) error {
	part, err := writer.CreateFormFile("file", "story"+filepath.Ext(sub.Media.Path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read recording: %w", err)
	}

	fields := [][2]string{
		{"session_id", sub.SessionID},
		{"prompt_id", sub.Prompt.ID},
		{"mode", string(sub.Media.Mode)},
		{"format", sub.Media.Format},
		{"duration_s", strconv.FormatFloat(sub.Media.Duration.Seconds(), 'f', 1, 64)},
		{"first_name", sub.Contributor.FirstName},
		{"last_name", sub.Contributor.LastName},
		{"phone", sub.Contributor.Phone},
	}
	for _, kv := range fields {
		if err := writer.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return writer.Close()
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
