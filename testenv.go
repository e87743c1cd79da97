package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"storybooth/capture"
	"storybooth/log"
	"storybooth/media"
	"storybooth/story"
	"storybooth/wizard"
)

// scriptEnv drives the wizard from a line-oriented script instead of the
// terminal UI. Each line is one command; see exec for the list.
type scriptEnv struct {
	app    *app
	audio  *capture.FakeContext
	camera *capture.FakeCamera
	out    io.Writer
	outMu  sync.Mutex

	// manual disables the heartbeat; the script advances the timer with TICK.
	manual bool
}

// ScriptError is a failed EXPECT.
type ScriptError struct {
	Line int
	Msg  string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func (e *scriptEnv) printf(format string, args ...any) {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	fmt.Fprintf(e.out, format+"\n", args...)
}

// run executes the script until QUIT or end of input.
func (e *scriptEnv) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.printEvents(ctx)
	}()
	if !e.manual {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.pump(ctx)
		}()
	}

	scanner := bufio.NewScanner(in)
	line := 0
	for scanner.Scan() {
		line++
		cmd := strings.TrimSpace(scanner.Text())
		if cmd == "" || strings.HasPrefix(cmd, "#") {
			continue
		}
		quit, err := e.exec(ctx, line, cmd)
		if err != nil {
			return err
		}
		if quit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// let the printer flush what the last command emitted
	e.settle()
	return nil
}

func (e *scriptEnv) printEvents(ctx context.Context) {
	for {
		select {
		case ev := <-e.app.events:
			e.printf("%s -> %s", ev.From, ev.To)
		case <-e.app.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *scriptEnv) pump(ctx context.Context) {
	h := newHeartbeat(e.app.wizard)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b := h.Beat(); b.Silence != SilenceNone {
				e.printf("silence %s", b.Silence)
			}
		}
	}
}

func (e *scriptEnv) settle() {
	deadline := time.Now().Add(time.Second)
	for len(e.app.events) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)
}

func (e *scriptEnv) exec(ctx context.Context, line int, cmd string) (quit bool, err error) {
	w := e.app.wizard
	fields := strings.Fields(cmd)
	verb, args := strings.ToUpper(fields[0]), fields[1:]

	var actionErr error
	switch verb {
	case "WELCOME":
		if len(args) < 3 {
			return false, &ScriptError{Line: line, Msg: "usage: WELCOME <first> <last> <phone>"}
		}
		actionErr = e.welcome(story.Contributor{FirstName: args[0], LastName: args[1], Phone: strings.Join(args[2:], " ")})
	case "NEXT":
		actionErr = w.Next(ctx)
	case "BACK":
		actionErr = w.Back(ctx)
	case "MODE":
		if len(args) != 1 {
			return false, &ScriptError{Line: line, Msg: "usage: MODE audio|video"}
		}
		actionErr = w.SelectMode(ctx, media.Mode(strings.ToLower(args[0])))
	case "ALLOW":
		actionErr = w.RequestPermission(ctx)
	case "RETRY":
		actionErr = w.RetryPermission(ctx)
	case "SETTINGS":
		actionErr = w.OpenSettings()
	case "APPLY":
		s, perr := parseSettings(w.Snapshot().Settings, args)
		if perr != nil {
			return false, &ScriptError{Line: line, Msg: perr.Error()}
		}
		actionErr = w.ApplySettings(ctx, s)
	case "DONE_SETTINGS":
		actionErr = w.CloseSettings()
	case "START":
		actionErr = w.StartRecording(ctx)
	case "PAUSE":
		actionErr = w.Pause()
	case "RESUME":
		actionErr = w.Resume()
	case "STOP":
		actionErr = w.StopRecording(ctx)
	case "AGAIN":
		actionErr = w.RecordAgain(ctx)
	case "CHANGE_MODE":
		actionErr = w.ChangeMode()
	case "SUBMIT":
		actionErr = w.Submit(ctx)
	case "RESET":
		actionErr = w.Reset()
	case "TICK":
		n := 1
		if len(args) > 0 {
			v, perr := strconv.Atoi(args[0])
			if perr != nil {
				return false, &ScriptError{Line: line, Msg: "TICK needs a count"}
			}
			n = v
		}
		for range n {
			w.Tick()
		}
	case "DENY", "MISSING":
		on := len(args) == 0 || args[0] != "off"
		e.setDevices(verb, on)
	case "SLEEP":
		if len(args) == 1 {
			if ms, err := strconv.Atoi(args[0]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		}
	case "EXPECT":
		e.settle()
		if len(args) != 1 {
			return false, &ScriptError{Line: line, Msg: "usage: EXPECT <step>"}
		}
		if got := w.Snapshot().Step.String(); got != strings.ToLower(args[0]) {
			return false, &ScriptError{Line: line, Msg: fmt.Sprintf("step is %s, want %s", got, strings.ToLower(args[0]))}
		}
	case "STATUS":
		e.settle()
		e.printf("%s", describe(w.Snapshot()))
	case "QUIT":
		return true, nil
	default:
		return false, &ScriptError{Line: line, Msg: "unknown command " + verb}
	}

	if actionErr != nil {
		log.Warnf("script %s: %v", verb, actionErr)
		e.settle()
		e.printf("error: %v", actionErr)
	}
	return false, nil
}

func (e *scriptEnv) welcome(c story.Contributor) error {
	var begun error
	err := e.app.welcome(func(c story.Contributor) { begun = e.app.begin(c) }, func() {})
	if err != nil {
		return err
	}
	if err := e.app.dialogs.Identify(c); err != nil {
		e.app.dialogs.Dismiss()
		return err
	}
	return begun
}

func (e *scriptEnv) setDevices(verb string, on bool) {
	switch verb {
	case "DENY":
		if e.audio != nil {
			e.audio.SetDeny(on)
		}
		if e.camera != nil {
			e.camera.SetDeny(on)
		}
	case "MISSING":
		if e.audio != nil {
			e.audio.SetMissing(on)
		}
		if e.camera != nil {
			e.camera.SetMissing(on)
		}
	}
}

// parseSettings reads key=value pairs on top of cur. Keys are mic, camera
// and quality; "default" clears a device choice.
func parseSettings(cur media.Settings, args []string) (media.Settings, error) {
	s := cur
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return s, fmt.Errorf("bad setting %q, want key=value", a)
		}
		if v == "default" {
			v = ""
		}
		switch strings.ToLower(k) {
		case "mic", "microphone":
			s.Microphone = v
		case "camera":
			s.Camera = v
		case "quality":
			q, err := media.ParseQuality(v)
			if err != nil {
				return s, err
			}
			s.Quality = q
		default:
			return s, fmt.Errorf("unknown setting %q", k)
		}
	}
	return s, nil
}

func describe(s wizard.Session) string {
	parts := []string{
		"step=" + s.Step.String(),
		"mode=" + string(s.Mode),
		"permission=" + s.Permission.String(),
		"elapsed=" + formatElapsed(s.Elapsed),
		"paused=" + strconv.FormatBool(s.Paused),
		"sending=" + s.Sending.String(),
		"media=" + strconv.FormatBool(s.HasMedia()),
	}
	if s.HasMedia() {
		parts = append(parts, "format="+s.Media.Format)
	}
	if s.Receipt.URL != "" {
		parts = append(parts, "receipt="+s.Receipt.URL)
	}
	if s.LastError != nil {
		parts = append(parts, fmt.Sprintf("error=%q", s.LastError.Error()))
	}
	return strings.Join(parts, " ")
}
