package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"storybooth/story"
)

func TestBuiltinLookup(t *testing.T) {
	p, err := Builtin().Lookup("1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "How did your relationship with your parents change as you got older?" {
		t.Errorf("text = %q", p.Text)
	}
	if _, err := Builtin().Lookup("999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(999) = %v, want ErrNotFound", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	data := `prompts:
  - id: "b"
    text: What was your first job?
  - id: "a"
    text: "  Describe the house you grew up in.  "
    image_url: /house.jpg
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []story.Prompt{
		{ID: "a", Text: "Describe the house you grew up in.", ImageURL: "/house.jpg"},
		{ID: "b", Text: "What was your first job?"},
	}
	if diff := cmp.Diff(want, c.All()); diff != "" {
		t.Errorf("All() (-want +got):\n%s", diff)
	}
}

func TestLoadInvalid(t *testing.T) {
	for name, data := range map[string]string{
		"no id":     "prompts:\n  - text: hi\n",
		"no text":   "prompts:\n  - id: x\n",
		"duplicate": "prompts:\n  - {id: x, text: a}\n  - {id: x, text: b}\n",
		"not yaml":  "prompts: [",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "prompts.yaml")
			os.WriteFile(path, []byte(data), 0644)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadEmpty(t *testing.T) {
	for name, data := range map[string]string{
		"empty list": "prompts: []\n",
		"wrong key":  "promts:\n  - {id: x, text: a}\n",
		"empty file": "",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "prompts.yaml")
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); !errors.Is(err, ErrEmpty) {
				t.Errorf("Load = %v, want ErrEmpty", err)
			}
		})
	}
	if _, err := New(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("New(nil) = %v, want ErrEmpty", err)
	}
}
