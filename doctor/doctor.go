// Package doctor runs system diagnostics for storybooth: microphone input,
// camera capture, the data directory, the configured sink and the
// clipboard.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"storybooth/capture"
	"storybooth/config"
	"storybooth/encoder"
	"storybooth/media"
	"storybooth/playback"
	"storybooth/submit"
)

// Result is the outcome of one check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

type Options struct {
	Config *config.Config
	// Audio overrides the platform audio context.
	Audio capture.Context
	// Camera overrides the ffmpeg camera.
	Camera capture.VideoSource
	// Listen is how long the microphone check records.
	Listen time.Duration
	// Interactive asks the user to confirm the chime was heard.
	Interactive bool
	In          io.Reader
	Out         io.Writer
}

// Run executes every check and returns an exit code (0=all pass, 1=any fail).
func Run(ctx context.Context, o Options) int {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Listen == 0 {
		o.Listen = 3 * time.Second
	}
	if o.Interactive {
		resetTerminal()
	}

	fmt.Fprintln(o.Out, "storybooth doctor - system diagnostics")
	fmt.Fprintln(o.Out, "======================================")

	var results []Result
	report := func(r Result) {
		results = append(results, r)
		status := "PASS"
		if !r.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(o.Out, "\n[%d] %s\n  %s: %s\n", len(results), r.Name, status, r.Detail)
	}

	for _, r := range background(ctx, o) {
		report(r)
	}

	fmt.Fprintf(o.Out, "\nSpeak for %.0f seconds...\n", o.Listen.Seconds())
	report(checkMicrophone(ctx, o.Audio, o.Listen))

	if o.Interactive {
		report(checkChime(o.In, o.Out))
	}

	allPass := true
	for _, r := range results {
		allPass = allPass && r.Pass
	}
	fmt.Fprintln(o.Out)
	if allPass {
		fmt.Fprintln(o.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(o.Out, "Some checks failed. See details above.")
	return 1
}

// background runs the checks that need no user input concurrently and
// returns their results in a fixed order.
func background(ctx context.Context, o Options) []Result {
	cam := o.Camera
	if cam == nil {
		cam = capture.NewFFmpegCamera()
	}
	checks := []func(context.Context) Result{
		func(ctx context.Context) Result { return checkCamera(ctx, cam, o.Camera == nil) },
		func(context.Context) Result { return checkDataDir(o.Config.DataDir) },
		func(ctx context.Context) Result { return checkSink(ctx, o.Config.SinkConfig()) },
		func(context.Context) Result { return checkClipboard() },
	}
	results := make([]Result, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			results[i] = check(gctx)
			return nil
		})
	}
	g.Wait()
	return results
}

func checkMicrophone(ctx context.Context, actx capture.Context, listen time.Duration) Result {
	r := Result{Name: "Microphone"}
	if actx == nil {
		c, err := capture.NewContext()
		if err != nil {
			r.Detail = fmt.Sprintf("cannot connect to audio: %v", err)
			return r
		}
		defer c.Close()
		actx = c
	}

	devices, err := actx.Devices()
	if err != nil {
		r.Detail = fmt.Sprintf("cannot list devices: %v", err)
		return r
	}
	if len(devices) == 0 {
		r.Detail = "no capture devices found"
		return r
	}

	dev, err := actx.NewCapture(nil, capture.Config{SampleRate: encoder.SampleRate, Channels: encoder.Channels})
	if err != nil {
		r.Detail = fmt.Sprintf("cannot open default input: %v", err)
		return r
	}
	defer dev.Close()

	var mu sync.Mutex
	var frames uint64
	var peak float64
	dev.SetCallback(func(data []byte, frameCount uint32) {
		level := capture.RMS(data)
		mu.Lock()
		frames += uint64(frameCount)
		peak = max(peak, level)
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		r.Detail = fmt.Sprintf("cannot start capture: %v", err)
		return r
	}

	select {
	case <-time.After(listen):
	case <-ctx.Done():
	}
	dev.Stop()
	dev.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	if frames == 0 {
		r.Detail = "no audio captured"
		return r
	}
	r.Pass = true
	r.Detail = fmt.Sprintf("%d devices, captured %.1fs, peak level %.3f", len(devices), encoder.Duration(frames).Seconds(), peak)
	if peak < capture.SpeechLevel {
		r.Detail += " (no voice detected, check the input gain)"
	}
	for _, d := range devices {
		if capture.IsBluetooth(d.Name) {
			r.Detail += "\n  note: " + d.Name + " looks like a Bluetooth headset, quality may drop while recording"
		}
	}
	return r
}

// checkCamera passes when no camera is attached; audio stories still work.
func checkCamera(ctx context.Context, cam capture.VideoSource, needsFFmpeg bool) Result {
	r := Result{Name: "Camera"}
	if needsFFmpeg {
		if err := capture.CheckFFmpeg(); err != nil {
			r.Detail = err.Error()
			return r
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cams, err := cam.Devices(ctx)
	if err != nil {
		r.Detail = fmt.Sprintf("cannot list cameras: %v", err)
		return r
	}
	if len(cams) == 0 {
		r.Pass = true
		r.Detail = "no camera found, only audio stories are available"
		return r
	}
	feed, err := cam.Preview(ctx, cams[0].ID, media.Quality720p)
	if err != nil {
		r.Detail = fmt.Sprintf("cannot open %s: %v", cams[0].Name, err)
		return r
	}
	if err := feed.Stop(); err != nil {
		r.Detail = fmt.Sprintf("%s did not stop cleanly: %v", cams[0].Name, err)
		return r
	}
	r.Pass = true
	r.Detail = fmt.Sprintf("%d cameras, opened %s", len(cams), cams[0].Name)
	return r
}

func checkDataDir(dir string) Result {
	r := Result{Name: "Data directory"}
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.Detail = fmt.Sprintf("cannot create %s: %v", dir, err)
		return r
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		r.Detail = fmt.Sprintf("%s is not writable: %v", dir, err)
		return r
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	r.Pass = true
	r.Detail = dir
	return r
}

func checkSink(ctx context.Context, cfg submit.Config) Result {
	r := Result{Name: "Sink"}
	sink, err := submit.New(cfg)
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	switch s := sink.(type) {
	case *submit.HTTPSink:
		start := time.Now()
		tls, err := s.Client().Warm(ctx, cfg.URL)
		if err != nil {
			r.Detail = fmt.Sprintf("%s unreachable: %v", cfg.URL, err)
			return r
		}
		r.Pass = true
		r.Detail = fmt.Sprintf("%s reachable in %dms (tls %dms)", cfg.URL, time.Since(start).Milliseconds(), tls.Milliseconds())
	case *submit.OutboxSink:
		dr := checkDataDir(cfg.OutboxDir)
		r.Pass = dr.Pass
		r.Detail = "outbox " + dr.Detail
	default:
		r.Pass = true
		r.Detail = sink.Name() + " sink, nothing is uploaded"
	}
	return r
}

func checkChime(in io.Reader, out io.Writer) Result {
	r := Result{Name: "Speaker"}
	playback.Init()
	fmt.Fprintln(out, "\nPlaying the start chime...")
	playback.PlayStart()
	time.Sleep(500 * time.Millisecond)

	fmt.Fprint(out, "Did you hear it? [y/n]: ")
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	if answer == "y" || answer == "yes" {
		r.Pass = true
		r.Detail = "chime confirmed by user"
		return r
	}
	r.Detail = "chime not confirmed, check the output device and volume"
	return r
}
