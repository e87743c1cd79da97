package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"storybooth/dialog"
	"storybooth/log"
	"storybooth/media"
	"storybooth/playback"
	"storybooth/story"
	"storybooth/wizard"
)

// TUI message types
type beatMsg beat
type eventMsg wizard.Event
type actionDoneMsg struct {
	action string
	err    error
}
type devicesMsg struct {
	devices []media.Device
	err     error
}
type reviewDoneMsg struct{ err error }

type tuiModel struct {
	ctx   context.Context
	app   *app
	heart *heartbeat

	sess          wizard.Session
	level         float64
	history       []float64 // recent levels for the waveform
	noVoice       bool
	busy          string
	status        string
	width, height int

	form     welcomeForm
	settings settingsForm
	// pending is set by dialog handlers, which run inside Update.
	pending tea.Cmd

	reviewing    bool
	cancelReview context.CancelFunc
	quitting     bool
}

const historyLen = 40

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	selectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	dialogStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2)
	meterStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stepperStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func newTUIModel(ctx context.Context, a *app) *tuiModel {
	return &tuiModel{
		ctx:   ctx,
		app:   a,
		heart: newHeartbeat(a.wizard),
		sess:  a.wizard.Snapshot(),
		form:  newWelcomeForm(),
	}
}

func runTUI(ctx context.Context, a *app) error {
	m := newTUIModel(ctx, a)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *tuiModel) beat() tea.Cmd {
	return tea.Tick(tickInterval, func(_ time.Time) tea.Msg {
		return beatMsg(m.heart.Beat())
	})
}

func (m *tuiModel) nextEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.app.events:
			return eventMsg(ev)
		case <-m.app.done:
			return nil
		}
	}
}

// run performs a wizard action off the event loop. Observer events raised by
// the action arrive separately as eventMsg.
func (m *tuiModel) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	m.busy = action
	m.status = ""
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m *tuiModel) Init() tea.Cmd {
	err := m.app.welcome(
		func(c story.Contributor) {
			m.pending = m.run("begin", func(context.Context) error { return m.app.begin(c) })
		},
		func() { m.pending = m.quit() },
	)
	if err != nil {
		log.Errorf("welcome dialog: %v", err)
	}
	return tea.Batch(textinput.Blink, m.beat(), m.nextEvent())
}

func (m *tuiModel) quit() tea.Cmd {
	m.quitting = true
	if m.cancelReview != nil {
		m.cancelReview()
	}
	return tea.Quit
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case beatMsg:
		m.sess = msg.Session
		m.level = msg.Level
		m.history = append(m.history, msg.Level)
		if len(m.history) > historyLen {
			m.history = m.history[len(m.history)-historyLen:]
		}
		switch msg.Silence {
		case SilenceWarn, SilenceRepeat:
			m.noVoice = true
		case SilenceWarnClear:
			m.noVoice = false
		case SilenceAutoPause:
			m.status = "Paused after 30 seconds of silence"
		}
		if !msg.Session.Step.Live() || msg.Session.Paused {
			m.noVoice = false
		}
		return m, m.beat()

	case eventMsg:
		m.sess = msg.Session
		if msg.To != msg.From {
			m.history = nil
			m.noVoice = false
		}
		// the take may be deleted or re-recorded once review is left
		if msg.From == wizard.StepReview && msg.To != wizard.StepReview && m.reviewing {
			m.cancelReview()
		}
		return m, m.nextEvent()

	case actionDoneMsg:
		m.busy = ""
		m.sess = m.app.wizard.Snapshot()
		if msg.err != nil {
			return m, m.failed(msg.action, msg.err)
		}

	case devicesMsg:
		if msg.err != nil {
			m.status = "Could not list devices: " + msg.err.Error()
		}
		m.settings = newSettingsForm(m.sess.Mode, msg.devices, m.sess.Settings)

	case reviewDoneMsg:
		m.reviewing = false
		m.cancelReview = nil
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.status = "Playback failed: " + msg.err.Error()
		}

	case tea.KeyMsg:
		cmd := m.handleKey(msg)
		if p := m.pending; p != nil {
			m.pending = nil
			cmd = tea.Batch(cmd, p)
		}
		return m, cmd
	}
	return m, nil
}

func (m *tuiModel) failed(action string, err error) tea.Cmd {
	log.Warnf("%s: %v", action, err)
	var serr *wizard.SubmissionError
	switch {
	case errors.Is(err, wizard.ErrBusy):
		m.status = "Still working on the previous step..."
	case errors.Is(err, wizard.ErrClosed):
		return m.quit()
	case errors.As(err, &serr):
		m.app.dialogs.Show(dialog.Alert{
			Title:       "Your story was not sent",
			Description: serr.Err.Error() + "\nYour recording is still here. Try submitting again.",
		}.WithDefaults(), nil)
	case errors.Is(err, media.ErrPermissionDenied), errors.Is(err, media.ErrDeviceUnavailable):
		// shown by the step itself
	default:
		m.status = err.Error()
	}
	return nil
}

func (m *tuiModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		return m.quit()
	}
	if req := m.app.dialogs.Current(); req != nil {
		return m.handleDialogKey(req, msg)
	}
	if m.busy != "" {
		return nil
	}

	w := m.app.wizard
	key := msg.String()
	switch m.sess.Step {
	case wizard.StepPrompt:
		switch key {
		case "enter":
			return m.run("next", w.Next)
		case "q":
			return m.quit()
		}

	case wizard.StepMode:
		switch key {
		case "a":
			return m.run("select audio", func(ctx context.Context) error { return w.SelectMode(ctx, media.ModeAudio) })
		case "v":
			return m.run("select video", func(ctx context.Context) error { return w.SelectMode(ctx, media.ModeVideo) })
		case "esc", "backspace":
			return m.run("back", w.Back)
		case "q":
			return m.quit()
		}

	case wizard.StepPermission:
		switch key {
		case "enter":
			if m.sess.PermissionError {
				return m.run("retry permission", w.RetryPermission)
			}
			return m.run("request permission", w.RequestPermission)
		case "esc", "backspace":
			return m.run("back", w.Back)
		case "q":
			return m.quit()
		}

	case wizard.StepTest:
		switch key {
		case "enter", "r":
			return m.run("start recording", w.StartRecording)
		case "s":
			m.settings = newSettingsForm(m.sess.Mode, nil, m.sess.Settings)
			return tea.Batch(
				m.run("open settings", func(context.Context) error { return w.OpenSettings() }),
				m.loadDevices(),
			)
		case "m":
			return m.run("change mode", func(context.Context) error { return w.ChangeMode() })
		case "esc", "backspace":
			return m.run("back", w.Back)
		case "q":
			return m.quit()
		}

	case wizard.StepSettings:
		switch key {
		case "up", "k":
			m.settings.move(-1)
		case "down", "j":
			m.settings.move(1)
		case "left", "h":
			m.settings.cycle(-1)
		case "right", "l":
			m.settings.cycle(1)
		case "enter":
			s := m.settings.value()
			return m.run("apply settings", func(ctx context.Context) error { return w.ApplySettings(ctx, s) })
		case "esc":
			return m.run("close settings", func(context.Context) error { return w.CloseSettings() })
		}

	case wizard.StepRecording:
		switch key {
		case " ", "p":
			return m.run("pause", func(context.Context) error { return w.TogglePause() })
		case "enter", "s":
			return m.run("stop recording", w.StopRecording)
		case "esc":
			return m.confirm(dialog.Confirm{
				Title:       "Discard this recording?",
				Description: "You will go back to the camera and microphone test.",
				ConfirmText: "Discard",
			}, "back", w.Back)
		}

	case wizard.StepReview:
		switch key {
		case "enter":
			return m.run("submit", w.Submit)
		case "p":
			return m.review()
		case "r":
			return m.confirm(dialog.Confirm{
				Title:       "Record again?",
				Description: "Your current recording will be deleted.",
				ConfirmText: "Record again",
			}, "record again", w.RecordAgain)
		case "m":
			return m.confirm(dialog.Confirm{
				Title:       "Change how you record?",
				Description: "Your current recording will be deleted.",
			}, "change mode", func(context.Context) error { return w.ChangeMode() })
		case "esc":
			return m.run("back", w.Back)
		case "q":
			return m.confirm(dialog.Confirm{
				Title:       "Leave without sending?",
				Description: "Your recording has not been submitted and will be deleted.",
				ConfirmText: "Leave",
			}, "quit", nil)
		}

	case wizard.StepDone:
		switch key {
		case "enter", "n":
			return m.run("record another", func(context.Context) error { return w.Reset() })
		case "c":
			if m.app.copyReceipt(m.sess.Receipt.URL) {
				m.status = "Link copied"
			}
		case "q", "esc":
			return m.quit()
		}
	}
	return nil
}

// confirm runs action after the user agrees. A nil action quits.
func (m *tuiModel) confirm(c dialog.Confirm, action string, fn func(ctx context.Context) error) tea.Cmd {
	err := m.app.dialogs.Show(c.WithDefaults(), func(r dialog.Response) {
		if !r.(dialog.Confirmed).OK {
			return
		}
		if fn == nil {
			m.pending = m.quit()
			return
		}
		m.pending = m.run(action, fn)
	})
	if err != nil {
		log.Warnf("confirm %s: %v", action, err)
	}
	return nil
}

func (m *tuiModel) handleDialogKey(req dialog.Request, msg tea.KeyMsg) tea.Cmd {
	d := m.app.dialogs
	switch req.(type) {
	case dialog.Confirm:
		switch msg.String() {
		case "y", "enter":
			d.Resolve(dialog.Confirmed{OK: true})
		case "n", "esc":
			d.Dismiss()
		}
	case dialog.Alert:
		switch msg.String() {
		case "enter", "esc", " ":
			d.Resolve(dialog.Acknowledged{})
		}
	case dialog.Welcome:
		switch msg.String() {
		case "esc":
			d.Dismiss()
			return nil
		case "tab", "down":
			return m.form.focus(m.form.active + 1)
		case "shift+tab", "up":
			return m.form.focus(m.form.active - 1)
		case "enter":
			if m.form.active < len(m.form.inputs)-1 {
				return m.form.focus(m.form.active + 1)
			}
			if err := d.Identify(m.form.contributor()); err != nil {
				m.form.err = err
			}
			return nil
		}
		return m.form.update(msg)
	}
	return nil
}

func (m *tuiModel) loadDevices() tea.Cmd {
	rec, ctx := m.app.rec, m.ctx
	return func() tea.Msg {
		devices, err := rec.Devices(ctx)
		return devicesMsg{devices: devices, err: err}
	}
}

func (m *tuiModel) review() tea.Cmd {
	if m.reviewing {
		m.cancelReview()
		return nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.reviewing = true
	m.cancelReview = cancel
	ref := m.sess.Media
	return func() tea.Msg {
		defer cancel()
		return reviewDoneMsg{err: playback.Review(ctx, ref)}
	}
}

func (m *tuiModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("storybooth") + "  " + renderStepper(m.sess.Step) + "\n\n")

	if req := m.app.dialogs.Current(); req != nil {
		b.WriteString(m.renderDialog(req))
		return b.String()
	}

	b.WriteString(m.renderStep())

	if m.busy != "" {
		b.WriteString("\n" + dimStyle.Render("… "+m.busy))
	}
	if m.status != "" {
		b.WriteString("\n" + warnStyle.Render(m.status))
	}
	return b.String()
}

var stepperSteps = []struct {
	label string
	steps []wizard.Step
}{
	{"Prompt", []wizard.Step{wizard.StepPrompt}},
	{"Mode", []wizard.Step{wizard.StepMode, wizard.StepPermission}},
	{"Test", []wizard.Step{wizard.StepTest, wizard.StepSettings}},
	{"Record", []wizard.Step{wizard.StepRecording}},
	{"Review", []wizard.Step{wizard.StepReview, wizard.StepSending, wizard.StepDone}},
}

func renderStepper(current wizard.Step) string {
	parts := make([]string, len(stepperSteps))
	for i, s := range stepperSteps {
		label := fmt.Sprintf("%d %s", i+1, s.label)
		if containsStep(s.steps, current) {
			parts[i] = selectStyle.Render(label)
		} else {
			parts[i] = stepperStyle.Render(label)
		}
	}
	return strings.Join(parts, stepperStyle.Render(" › "))
}

func containsStep(steps []wizard.Step, s wizard.Step) bool {
	for _, x := range steps {
		if x == s {
			return true
		}
	}
	return false
}

func help(pairs ...string) string {
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, keyStyle.Render(pairs[i])+helpStyle.Render(" "+pairs[i+1]))
	}
	return "\n" + strings.Join(parts, helpStyle.Render(" · ")) + "\n"
}

func (m *tuiModel) renderStep() string {
	s := m.sess
	var b strings.Builder
	switch s.Step {
	case wizard.StepPrompt:
		b.WriteString(promptStyle.Render(wrap(s.Prompt.Text, m.textWidth())) + "\n")
		if s.Contributor.FirstName != "" {
			b.WriteString(dimStyle.Render("Recording as "+s.Contributor.FullName()) + "\n")
		}
		b.WriteString(help("enter", "answer this prompt", "q", "quit"))

	case wizard.StepMode:
		b.WriteString("How would you like to tell your story?\n\n")
		b.WriteString("  " + keyStyle.Render("a") + " audio only\n")
		b.WriteString("  " + keyStyle.Render("v") + " video with audio\n")
		b.WriteString(help("esc", "back", "q", "quit"))

	case wizard.StepPermission:
		kinds := "your microphone"
		if s.Mode == media.ModeVideo {
			kinds = "your camera and microphone"
		}
		if s.PermissionError {
			b.WriteString(errStyle.Render("We could not access "+kinds+".") + "\n\n")
			b.WriteString(permissionHelp(s.LastError) + "\n")
			b.WriteString(help("enter", "try again", "esc", "back"))
		} else {
			b.WriteString("storybooth needs access to " + kinds + " to record your story.\n")
			b.WriteString(help("enter", "allow access", "esc", "back"))
		}

	case wizard.StepTest, wizard.StepSettings:
		b.WriteString(fmt.Sprintf("Testing %s · %s\n\n", s.Mode, s.Settings.Quality.Label()))
		if s.DeviceError != nil {
			b.WriteString(errStyle.Render("Device problem: "+s.DeviceError.Error()) + "\n")
		} else {
			b.WriteString(m.renderMeter() + "\n")
			if m.noVoice {
				b.WriteString(warnStyle.Render("⚠ no voice detected, check your microphone") + "\n")
			}
		}
		if s.Step == wizard.StepSettings {
			b.WriteString("\n" + m.settings.view())
			b.WriteString(help("↑/↓", "choose", "←/→", "change", "enter", "apply", "esc", "done"))
		} else {
			b.WriteString(help("enter", "start recording", "s", "settings", "m", "change mode", "esc", "back"))
		}

	case wizard.StepRecording:
		state := recStyle.Render("● REC")
		if s.Paused {
			state = warnStyle.Render("❚❚ PAUSED")
		}
		b.WriteString(state + " " + formatElapsed(s.Elapsed) + "\n\n")
		b.WriteString(m.renderMeter() + "\n")
		if m.noVoice {
			b.WriteString(warnStyle.Render("⚠ no voice detected") + "\n")
		}
		b.WriteString(help("space", "pause/resume", "enter", "finish", "esc", "discard"))

	case wizard.StepReview:
		b.WriteString(fmt.Sprintf("Your %s story · %s\n", s.Mode, formatElapsed(int(s.Media.Duration.Seconds()))))
		if m.reviewing {
			b.WriteString(dimStyle.Render("▶ playing...") + "\n")
		}
		var serr *wizard.SubmissionError
		if errors.As(s.LastError, &serr) {
			b.WriteString(errStyle.Render("Last attempt failed: "+serr.Err.Error()) + "\n")
		}
		b.WriteString(help("enter", "submit", "p", "play", "r", "record again", "m", "change mode", "q", "quit"))

	case wizard.StepSending:
		b.WriteString("Sending your story...\n")

	case wizard.StepDone:
		b.WriteString(okStyle.Render("✓ Thank you! Your story was received.") + "\n")
		if url := s.Receipt.URL; url != "" {
			line := dimStyle.Render(url)
			if m.app.copied.Load() {
				line += " " + okStyle.Render("[✓ copied]")
			}
			b.WriteString(line + "\n")
		}
		b.WriteString(help("enter", "record another", "c", "copy link", "q", "quit"))
	}
	return b.String()
}

func permissionHelp(err error) string {
	if errors.Is(err, media.ErrDeviceUnavailable) {
		return "No compatible device was found. Plug one in and try again."
	}
	return "Access was refused. Make sure no other application holds the device,\n" +
		"and that your user may open it (on Linux, membership in the audio and video groups)."
}

// renderMeter draws the current level and a short history as a waveform.
func (m *tuiModel) renderMeter() string {
	const bars = "▁▂▃▄▅▆▇█"
	levels := []rune(bars)
	var wave strings.Builder
	for i := len(m.history); i < historyLen; i++ {
		wave.WriteRune(' ')
	}
	for _, l := range m.history {
		idx := int(l * 4 * float64(len(levels)-1))
		wave.WriteRune(levels[min(max(idx, 0), len(levels)-1)])
	}
	return meterStyle.Render(wave.String())
}

func (m *tuiModel) renderDialog(req dialog.Request) string {
	var body string
	switch r := req.(type) {
	case dialog.Confirm:
		body = titleStyle.Render(r.Title) + "\n\n" + r.Description + "\n" +
			help("y", r.ConfirmText, "n", r.CancelText)
	case dialog.Alert:
		body = titleStyle.Render(r.Title) + "\n\n" + r.Description + "\n" +
			help("enter", r.ButtonText)
	case dialog.Welcome:
		body = wrap(r.Greeting, m.textWidth()) + "\n\n" + m.form.view() +
			help("tab", "next field", "enter", "continue", "esc", "quit")
	}
	return dialogStyle.Render(body)
}

func (m *tuiModel) textWidth() int {
	if m.width <= 10 {
		return 70
	}
	return min(m.width-6, 90)
}

func formatElapsed(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func wrap(text string, width int) string {
	return strings.Join(wrapText(text, width), "\n")
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
