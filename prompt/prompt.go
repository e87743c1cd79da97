// Package prompt looks up the prompts contributors respond to.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"storybooth/story"
)

var (
	ErrNotFound = errors.New("prompt not found")
	ErrEmpty    = errors.New("prompt file has no prompts")
)

var builtin = []story.Prompt{
	{
		ID:       "1",
		Text:     "How did your relationship with your parents change as you got older?",
		ImageURL: "/placeholder-image.jpg",
	},
}

type Catalog struct {
	prompts map[string]story.Prompt
}

// Builtin returns the catalog shipped with the binary.
func Builtin() *Catalog {
	c, _ := New(builtin)
	return c
}

func New(prompts []story.Prompt) (*Catalog, error) {
	if len(prompts) == 0 {
		return nil, ErrEmpty
	}
	c := &Catalog{prompts: make(map[string]story.Prompt, len(prompts))}
	for i, p := range prompts {
		p.ID = strings.TrimSpace(p.ID)
		p.Text = strings.TrimSpace(p.Text)
		if p.ID == "" {
			return nil, fmt.Errorf("prompt %d: missing id", i+1)
		}
		if p.Text == "" {
			return nil, fmt.Errorf("prompt %q: missing text", p.ID)
		}
		if _, dup := c.prompts[p.ID]; dup {
			return nil, fmt.Errorf("prompt %q: duplicate id", p.ID)
		}
		c.prompts[p.ID] = p
	}
	return c, nil
}

type file struct {
	Prompts []story.Prompt `yaml:"prompts"`
}

// Load reads a YAML file of the form
//
//	prompts:
//	  - id: "1"
//	    text: How did ...
//	    image_url: /placeholder-image.jpg
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c, err := New(f.Prompts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) Lookup(id string) (story.Prompt, error) {
	p, ok := c.prompts[strings.TrimSpace(id)]
	if !ok {
		return story.Prompt{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// All returns the prompts ordered by id.
func (c *Catalog) All() []story.Prompt {
	out := make([]story.Prompt, 0, len(c.prompts))
	for _, p := range c.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
