package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storybooth/log"
	"storybooth/prompt"
)

func TestRecordWithEmptyPromptFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("STORYBOOTH_DATA_DIR", t.TempDir())
	t.Cleanup(log.Close)

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("prompts: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader("QUIT\n"))
	cmd.SetArgs([]string{"record", "--logpath", t.TempDir(), "--prompts", path, "--test", "--sink", "delay"})

	err := cmd.Execute()
	if !errors.Is(err, prompt.ErrEmpty) {
		t.Fatalf("Execute = %v, want ErrEmpty\n%s", err, out.String())
	}
}
