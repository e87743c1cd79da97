package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"storybooth/log"
	"storybooth/story"
)

const manifestFile = "manifest.json"

// OutboxSink copies each recording and a JSON manifest into
// <dir>/<session-id>/ for a later upload or pickup.
type OutboxSink struct {
	dir string
}

func NewOutbox(dir string) *OutboxSink {
	return &OutboxSink{dir: dir}
}

func (s *OutboxSink) Name() string { return "outbox" }

type manifest struct {
	SessionID   string            `json:"session_id"`
	Prompt      story.Prompt      `json:"prompt"`
	Contributor story.Contributor `json:"contributor"`
	Mode        string            `json:"mode"`
	Format      string            `json:"format"`
	File        string            `json:"file"`
	DurationS   float64           `json:"duration_s"`
	Size        int64             `json:"size"`
	Receipt     story.Receipt     `json:"receipt"`
}

func (s *OutboxSink) Submit(ctx context.Context, sub story.Submission) (story.Receipt, error) {
	start := time.Now()
	dest := filepath.Join(s.dir, sub.SessionID)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return story.Receipt{}, fmt.Errorf("create outbox entry: %w", err)
	}

	name := "story" + filepath.Ext(sub.Media.Path)
	size, err := copyFile(ctx, sub.Media.Path, filepath.Join(dest, name))
	if err != nil {
		os.RemoveAll(dest)
		return story.Receipt{}, err
	}

	receipt := story.Receipt{
		ID:  sub.SessionID,
		URL: "file://" + filepath.ToSlash(dest),
		At:  time.Now(),
	}
	m := manifest{
		SessionID:   sub.SessionID,
		Prompt:      sub.Prompt,
		Contributor: sub.Contributor,
		Mode:        string(sub.Media.Mode),
		Format:      sub.Media.Format,
		File:        name,
		DurationS:   sub.Media.Duration.Seconds(),
		Size:        size,
		Receipt:     receipt,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return story.Receipt{}, err
	}
	// the manifest is written last so a present manifest means a complete entry
	tmp := filepath.Join(dest, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.RemoveAll(dest)
		return story.Receipt{}, fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dest, manifestFile)); err != nil {
		os.RemoveAll(dest)
		return story.Receipt{}, fmt.Errorf("write manifest: %w", err)
	}

	log.Submission(log.SubmissionMetrics{
		Sink:     s.Name(),
		Mode:     m.Mode,
		MediaS:   m.DurationS,
		SizeKB:   float64(size) / 1024,
		Attempts: 1,
		TotalMs:  ms(time.Since(start)),
	})
	return receipt, nil
}

func copyFile(ctx context.Context, src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open recording: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create copy: %w", err)
	}
	n, err := io.Copy(out, ctxReader{ctx: ctx, r: in})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("copy recording: %w", err)
	}
	return n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
