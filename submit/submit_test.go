package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"storybooth/media"
	"storybooth/story"
)

func testSubmission(t *testing.T) story.Submission {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.flac")
	if err := os.WriteFile(path, []byte("fLaC fake audio"), 0644); err != nil {
		t.Fatal(err)
	}
	return story.Submission{
		SessionID:   "sess-1",
		Prompt:      story.Prompt{ID: "1", Text: "How did your relationship with your parents change?"},
		Contributor: story.Contributor{FirstName: "Ada", LastName: "Byron", Phone: "+15551234567"},
		Media: media.Ref{
			ID:       "take-1",
			Mode:     media.ModeAudio,
			Path:     path,
			Format:   "flac",
			Duration: 5 * time.Second,
		},
	}
}

func fastHTTP(url string) *HTTPSink {
	return NewHTTP(HTTPOptions{URL: url, Token: "secret", MaxTries: 3, InitialInterval: time.Millisecond})
}

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	if got, want := m.Sum(), 195*time.Millisecond; got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}

func TestHTTPSinkUpload(t *testing.T) {
	sub := testSubmission(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "sess-1/take-1" {
			t.Errorf("Idempotency-Key = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		want := map[string]string{
			"session_id": "sess-1",
			"prompt_id":  "1",
			"mode":       "audio",
			"format":     "flac",
			"duration_s": "5.0",
			"first_name": "Ada",
			"last_name":  "Byron",
			"phone":      "+15551234567",
		}
		got := map[string]string{}
		for k := range want {
			got[k] = r.FormValue(k)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("form fields (-want +got):\n%s", diff)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "story.flac" || string(data) != "fLaC fake audio" {
			t.Errorf("file %q = %q", hdr.Filename, data)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "st_42", "url": "https://stories.example/st_42"})
	}))
	defer srv.Close()

	r, err := fastHTTP(srv.URL).Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.ID != "st_42" || r.URL != "https://stories.example/st_42" || r.At.IsZero() {
		t.Errorf("receipt = %+v", r)
	}
}

func TestHTTPSinkRetries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantErr   bool
		temporary bool
	}{
		{"5xx then ok", []int{503, 502, 200}, 3, false, false},
		{"429 then ok", []int{429, 200}, 2, false, false},
		{"4xx is permanent", []int{422, 200}, 1, true, false},
		{"gives up", []int{500, 500, 500, 200}, 3, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				code := tt.statuses[n-1]
				if code != 200 {
					http.Error(w, "nope", code)
					return
				}
				w.Write([]byte(`{"id":"ok"}`))
			}))
			defer srv.Close()

			_, err := fastHTTP(srv.URL).Submit(context.Background(), testSubmission(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if err != nil {
				var serr *StatusError
				if !errors.As(err, &serr) {
					t.Fatalf("err = %v, want StatusError", err)
				}
				if serr.Temporary() != tt.temporary {
					t.Errorf("Temporary() = %v", serr.Temporary())
				}
			}
		})
	}
}

func largeSubmission(t *testing.T, size int) (story.Submission, []byte) {
	t.Helper()
	data := bytes.Repeat([]byte("0123456789abcdef"), size/16)
	sub := testSubmission(t)
	if err := os.WriteFile(sub.Media.Path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return sub, data
}

func TestHTTPSinkStreamsEveryAttempt(t *testing.T) {
	sub, data := largeSubmission(t, 4<<20)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.ContentLength != -1 {
			t.Errorf("attempt %d: ContentLength = %d, want a streamed body", n, r.ContentLength)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("attempt %d: ParseMultipartForm: %v", n, err)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("attempt %d: FormFile: %v", n, err)
			return
		}
		defer f.Close()
		got, _ := io.ReadAll(f)
		if !bytes.Equal(got, data) {
			t.Errorf("attempt %d: got %d bytes of recording, want %d", n, len(got), len(data))
		}
		if n == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"ok"}`))
	}))
	defer srv.Close()

	r, err := fastHTTP(srv.URL).Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.ID != "ok" || calls.Load() != 2 {
		t.Errorf("receipt = %+v after %d calls", r, calls.Load())
	}
}

func TestHTTPSinkRejectedBeforeBodyRead(t *testing.T) {
	sub, _ := largeSubmission(t, 4<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := fastHTTP(srv.URL).Submit(ctx, sub); err == nil {
		t.Fatal("Submit = nil, want an error")
	}
	if ctx.Err() != nil {
		t.Fatal("Submit blocked until the deadline")
	}
}

func TestHTTPSinkMissingFile(t *testing.T) {
	sub := testSubmission(t)
	sub.Media.Path = filepath.Join(t.TempDir(), "gone.flac")
	if _, err := fastHTTP("http://127.0.0.1:1").Submit(context.Background(), sub); err == nil {
		t.Fatal("expected error for missing recording")
	}
}

func TestHTTPSinkCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := fastHTTP(srv.URL).Submit(ctx, testSubmission(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestOutboxSink(t *testing.T) {
	dir := t.TempDir()
	sub := testSubmission(t)
	r, err := NewOutbox(dir).Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.ID != "sess-1" {
		t.Errorf("receipt id = %q", r.ID)
	}

	entry := filepath.Join(dir, "sess-1")
	data, err := os.ReadFile(filepath.Join(entry, "story.flac"))
	if err != nil || string(data) != "fLaC fake audio" {
		t.Fatalf("copied media = %q, %v", data, err)
	}
	raw, err := os.ReadFile(filepath.Join(entry, manifestFile))
	if err != nil {
		t.Fatal(err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if m.Contributor != sub.Contributor || m.Prompt != sub.Prompt || m.File != "story.flac" || m.DurationS != 5 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestDelaySink(t *testing.T) {
	s := NewDelay(20 * time.Millisecond)
	start := time.Now()
	r, err := s.Submit(context.Background(), testSubmission(t))
	if err != nil || r.ID == "" {
		t.Fatalf("Submit = %+v, %v", r, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("returned before the delay")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDelay(time.Hour).Submit(ctx, testSubmission(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled submit = %v", err)
	}
	if NewDelay(0).delay != DefaultDelay {
		t.Error("zero delay not defaulted")
	}
}

func TestFakeSink(t *testing.T) {
	boom := errors.New("boom")
	f := NewFake(boom)
	if _, err := f.Submit(context.Background(), story.Submission{}); !errors.Is(err, boom) {
		t.Fatalf("first submit = %v", err)
	}
	if _, err := f.Submit(context.Background(), story.Submission{}); err != nil {
		t.Fatalf("second submit = %v", err)
	}
	if len(f.Calls()) != 2 {
		t.Errorf("calls = %d", len(f.Calls()))
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg     Config
		want    string
		wantErr bool
	}{
		{Config{URL: "https://x"}, "http", false},
		{Config{OutboxDir: "/tmp/out"}, "outbox", false},
		{Config{Kind: "delay"}, "delay", false},
		{Config{Kind: "http"}, "", true},
		{Config{Kind: "outbox"}, "", true},
		{Config{Kind: "carrier-pigeon"}, "", true},
	}
	for _, tt := range tests {
		s, err := New(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%+v) err = %v", tt.cfg, err)
			continue
		}
		if err == nil && s.Name() != tt.want {
			t.Errorf("New(%+v) = %s, want %s", tt.cfg, s.Name(), tt.want)
		}
	}
}
