package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"storybooth/media"
	"storybooth/story"
)

type welcomeForm struct {
	inputs []textinput.Model
	active int
	err    error
}

func newWelcomeForm() welcomeForm {
	fields := []struct{ prompt, placeholder string }{
		{"First name  ", "Ada"},
		{"Last name   ", "Lovelace"},
		{"Phone       ", "+15551234567"},
	}
	f := welcomeForm{inputs: make([]textinput.Model, len(fields))}
	for i, fd := range fields {
		ti := textinput.New()
		ti.Prompt = fd.prompt
		ti.Placeholder = fd.placeholder
		ti.CharLimit = 80
		f.inputs[i] = ti
	}
	f.inputs[0].Focus()
	return f
}

func (f *welcomeForm) focus(i int) tea.Cmd {
	n := len(f.inputs)
	i = (i%n + n) % n
	for j := range f.inputs {
		f.inputs[j].Blur()
	}
	f.active = i
	return f.inputs[i].Focus()
}

func (f *welcomeForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.active], cmd = f.inputs[f.active].Update(msg)
	f.err = nil
	return cmd
}

func (f *welcomeForm) contributor() story.Contributor {
	return story.Contributor{
		FirstName: f.inputs[0].Value(),
		LastName:  f.inputs[1].Value(),
		Phone:     f.inputs[2].Value(),
	}
}

func (f *welcomeForm) view() string {
	var b strings.Builder
	for _, in := range f.inputs {
		b.WriteString(in.View() + "\n")
	}
	if f.err != nil {
		for _, line := range strings.Split(f.err.Error(), "\n") {
			b.WriteString("\n" + errStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

type settingOption struct {
	id, label string
}

type settingRow struct {
	name    string
	options []settingOption
	idx     int
}

// settingsForm edits the device settings of the test step. Rows are rebuilt
// whenever a device list arrives.
type settingsForm struct {
	base   media.Settings
	rows   []settingRow
	cursor int
}

func newSettingsForm(mode media.Mode, devices []media.Device, cur media.Settings) settingsForm {
	f := settingsForm{base: cur}
	f.rows = append(f.rows, deviceRow("Microphone", media.KindAudioInput, devices, cur.Microphone))
	if mode == media.ModeVideo {
		f.rows = append(f.rows, deviceRow("Camera", media.KindVideoInput, devices, cur.Camera))
	}
	quality := settingRow{name: "Quality"}
	for i, q := range []media.Quality{media.Quality720p, media.Quality1080p, media.Quality2160p} {
		quality.options = append(quality.options, settingOption{id: string(q), label: q.Label()})
		if q == cur.Quality {
			quality.idx = i
		}
	}
	f.rows = append(f.rows, quality)
	return f
}

func deviceRow(name string, kind media.Kind, devices []media.Device, current string) settingRow {
	row := settingRow{name: name, options: []settingOption{{id: "", label: "System default"}}}
	for _, d := range devices {
		if d.Kind != kind {
			continue
		}
		label := d.Label
		if label == "" {
			label = d.ID
		}
		row.options = append(row.options, settingOption{id: d.ID, label: label})
	}
	for i, o := range row.options {
		if o.id == current {
			row.idx = i
			return row
		}
	}
	row.options = append(row.options, settingOption{id: current, label: current + " (unavailable)"})
	row.idx = len(row.options) - 1
	return row
}

func (f *settingsForm) move(d int) {
	if len(f.rows) == 0 {
		return
	}
	f.cursor = min(max(f.cursor+d, 0), len(f.rows)-1)
}

func (f *settingsForm) cycle(d int) {
	if len(f.rows) == 0 {
		return
	}
	r := &f.rows[f.cursor]
	n := len(r.options)
	r.idx = ((r.idx+d)%n + n) % n
}

func (f *settingsForm) value() media.Settings {
	s := f.base
	for _, r := range f.rows {
		id := r.options[r.idx].id
		switch r.name {
		case "Microphone":
			s.Microphone = id
		case "Camera":
			s.Camera = id
		case "Quality":
			s.Quality = media.Quality(id)
		}
	}
	return s
}

func (f *settingsForm) view() string {
	var b strings.Builder
	for i, r := range f.rows {
		line := r.name + ": ‹ " + r.options[r.idx].label + " ›"
		if i == f.cursor {
			b.WriteString(selectStyle.Render("▶ "+line) + "\n")
		} else {
			b.WriteString(dimStyle.Render("  "+line) + "\n")
		}
	}
	return b.String()
}
