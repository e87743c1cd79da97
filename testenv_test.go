package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"storybooth/capture"
	"storybooth/media"
	"storybooth/submit"
	"storybooth/wizard"
)

func runScript(t *testing.T, sink submit.Sink, script string) (string, *app, error) {
	t.Helper()
	audio := capture.NewToneContext(false)
	camera := &capture.FakeCamera{}
	a := newTestApp(t, audio, sink)
	var out bytes.Buffer
	env := &scriptEnv{app: a, audio: audio, camera: camera, out: &out, manual: true}
	err := env.run(context.Background(), strings.NewReader(script))
	return out.String(), a, err
}

func TestScriptSubmitsStory(t *testing.T) {
	sink := submit.NewFake()
	out, a, err := runScript(t, sink, `
# answer the prompt with an audio story
WELCOME Ada Byron +1-555-123-4567
NEXT
MODE audio
ALLOW
EXPECT test
START
TICK 3
STATUS
STOP
EXPECT review
SUBMIT
EXPECT done
QUIT
`)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{
		"prompt -> mode",
		"permission -> test",
		"test -> recording",
		"step=recording mode=audio permission=granted elapsed=00:03",
		"recording -> review",
		"review -> sending",
		"sending -> done",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	calls := sink.Calls()
	if len(calls) != 1 {
		t.Fatalf("sink got %d submissions, want 1", len(calls))
	}
	if got := calls[0].Contributor.Phone; got != "+15551234567" {
		t.Errorf("phone = %q, want normalized +15551234567", got)
	}
	if got := a.submitted.Load(); got != 1 {
		t.Errorf("submitted = %d, want 1", got)
	}
}

func TestScriptPermissionRetry(t *testing.T) {
	out, a, err := runScript(t, submit.NewFake(), `
DENY
WELCOME Ada Byron +15551234567
NEXT
MODE audio
ALLOW
EXPECT permission
STATUS
DENY off
RETRY
EXPECT test
`)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "error: ") {
		t.Errorf("denied request was not reported:\n%s", out)
	}
	if !strings.Contains(out, "permission=denied") {
		t.Errorf("status did not show the refusal:\n%s", out)
	}
	if got := a.wizard.Snapshot().Permission; got != wizard.PermissionGranted {
		t.Errorf("permission = %s, want granted", got)
	}
}

func TestScriptSubmitFailureKeepsMedia(t *testing.T) {
	out, a, err := runScript(t, submit.NewFake(errors.New("offline")), `
WELCOME Ada Byron +15551234567
NEXT
MODE audio
ALLOW
START
TICK
STOP
SUBMIT
EXPECT review
SUBMIT
EXPECT done
`)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "sending -> review") {
		t.Errorf("failed submission did not return to review:\n%s", out)
	}
	if got := a.wizard.Snapshot().Receipt.ID; got != "fake-2" {
		t.Errorf("receipt = %q, want fake-2", got)
	}
}

func TestScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		line   int
	}{
		{"wrong step", "WELCOME Ada Byron +15551234567\nEXPECT review\n", 2},
		{"unknown command", "WELCOME Ada Byron +15551234567\n\nDANCE\n", 3},
		{"short welcome", "WELCOME Ada\n", 1},
		{"bad tick", "TICK many\n", 1},
		{"bad setting", "APPLY volume=11\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runScript(t, submit.NewFake(), tt.script)
			var serr *ScriptError
			if !errors.As(err, &serr) {
				t.Fatalf("run = %v, want *ScriptError", err)
			}
			if serr.Line != tt.line {
				t.Errorf("line = %d, want %d", serr.Line, tt.line)
			}
		})
	}
}

func TestScriptInvalidContributor(t *testing.T) {
	out, a, err := runScript(t, submit.NewFake(), "WELCOME Ada Byron not-a-phone\n")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "error: ") {
		t.Errorf("invalid phone was not reported:\n%s", out)
	}
	if a.dialogs.Open() {
		t.Error("welcome dialog left open after a failed script step")
	}
}

func TestParseSettings(t *testing.T) {
	cur := media.Settings{Microphone: "mic-1", Camera: "cam-1", Quality: media.Quality1080p}
	tests := []struct {
		name    string
		args    []string
		want    media.Settings
		wantErr bool
	}{
		{"none", nil, cur, false},
		{"mic", []string{"mic=usb"}, media.Settings{Microphone: "usb", Camera: "cam-1", Quality: media.Quality1080p}, false},
		{"default clears", []string{"camera=default"}, media.Settings{Microphone: "mic-1", Quality: media.Quality1080p}, false},
		{"quality", []string{"quality=720p", "microphone=x"}, media.Settings{Microphone: "x", Camera: "cam-1", Quality: media.Quality720p}, false},
		{"bad quality", []string{"quality=8k"}, media.Settings{}, true},
		{"no value", []string{"mic"}, media.Settings{}, true},
		{"unknown key", []string{"gain=3"}, media.Settings{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSettings(cur, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSettings(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseSettings(%v) mismatch (-want +got):\n%s", tt.args, diff)
			}
		})
	}
}
