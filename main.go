package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"storybooth/capture"
	"storybooth/config"
	"storybooth/doctor"
	"storybooth/log"
	"storybooth/media"
	"storybooth/playback"
	"storybooth/prompt"
	"storybooth/shutdown"
	"storybooth/story"
	"storybooth/submit"
)

var version = "dev"

var flags struct {
	logPath    string
	configPath string
	profile    string
	crash      bool

	sink      string
	sinkURL   string
	outbox    string
	quality   string
	mic       string
	camera    string
	prompts   string
	setup     bool
	noChimes  bool
	audioOnly bool

	test   bool
	wav    string
	manual bool

	selectMic bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "storybooth [promptID]",
		Short: "Record a story in answer to a prompt",
		Long: `storybooth walks a contributor through answering a prompt: identify
yourself, pick audio or video, test your devices, record, review and submit.

Run without arguments to answer the built-in prompt.`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) { log.Close() },
		RunE:              runRecord,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	pf.StringVar(&flags.configPath, "config", "", "config file (default: "+config.FilePath()+")")
	pf.StringVar(&flags.profile, "profile", "", "enable pprof profiling server (e.g., localhost:6060)")
	pf.BoolVar(&flags.crash, "crash", false, "trigger a synthetic panic to verify crash logging")
	pf.MarkHidden("crash")

	record := &cobra.Command{
		Use:   "record [promptID]",
		Short: "Answer a prompt (the default command)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRecord,
	}
	for _, c := range []*cobra.Command{root, record} {
		addRecordFlags(c)
	}

	devices := &cobra.Command{
		Use:   "devices",
		Short: "List microphones and cameras",
		Args:  cobra.NoArgs,
		RunE:  runDevices,
	}
	devices.Flags().BoolVar(&flags.selectMic, "select", false, "choose a microphone and print the config line for it")

	root.AddCommand(
		record,
		&cobra.Command{
			Use:   "prompts",
			Short: "List the prompts that can be answered",
			Args:  cobra.NoArgs,
			RunE:  runPrompts,
		},
		devices,
		&cobra.Command{
			Use:   "doctor",
			Short: "Run system diagnostics",
			Args:  cobra.NoArgs,
			RunE:  runDoctor,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "storybooth %s\n", version)
			},
		},
	)
	return root
}

func addRecordFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&flags.sink, "sink", "", "where stories go: http, outbox or delay")
	f.StringVar(&flags.sinkURL, "sink-url", "", "upload endpoint for the http sink")
	f.StringVar(&flags.outbox, "outbox", "", "directory for the outbox sink")
	f.StringVar(&flags.quality, "quality", "", "video quality: 720p, 1080p or 2160p")
	f.StringVar(&flags.mic, "mic", "", "microphone ID (see storybooth devices)")
	f.StringVar(&flags.camera, "camera", "", "camera ID (see storybooth devices)")
	f.StringVar(&flags.prompts, "prompts", "", "YAML prompt catalog")
	f.BoolVar(&flags.setup, "setup", false, "choose the microphone before starting")
	f.BoolVar(&flags.noChimes, "no-chimes", false, "do not play start and stop chimes")
	f.BoolVar(&flags.audioOnly, "audio-only", false, "disable video stories")
	f.BoolVar(&flags.test, "test", false, "test mode (headless, stdin-driven)")
	f.StringVar(&flags.wav, "wav", "", "test mode: 16 kHz mono WAV used as microphone input")
	f.BoolVar(&flags.manual, "manual-clock", false, "test mode: advance the recording timer only with TICK")
}

// setup resolves the log directory, installs the crash log and starts
// logging for commands that record or diagnose.
func setup(cmd *cobra.Command, _ []string) error {
	logPath, err := log.ResolveDir(flags.logPath)
	if err != nil {
		return fmt.Errorf("failed to resolve log directory: %w", err)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog(filepath.Join(log.Dir(), "crash_log.txt"))

	if flags.profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", flags.profile)
			if err := http.ListenAndServe(flags.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}
	if flags.crash {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	switch cmd.Name() {
	case "version", "prompts":
		return nil
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	return nil
}

func initCrashLog(path string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
	f.Close()
}

// loadConfig reads the config file and environment, then applies the flags
// the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	set := func(name string, dst *string, v string) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			*dst = v
		}
	}
	set("sink", &cfg.Sink.Kind, flags.sink)
	set("sink-url", &cfg.Sink.URL, flags.sinkURL)
	set("outbox", &cfg.Sink.Outbox, flags.outbox)
	set("mic", &cfg.Microphone, flags.mic)
	set("camera", &cfg.Camera, flags.camera)
	set("prompts", &cfg.PromptsFile, flags.prompts)
	if f := cmd.Flags().Lookup("quality"); f != nil && f.Changed {
		q, err := media.ParseQuality(flags.quality)
		if err != nil {
			return nil, fmt.Errorf("--quality: %w", err)
		}
		cfg.Quality = q
	}
	if flags.audioOnly {
		cfg.Video = false
	}
	if flags.noChimes {
		cfg.Chimes = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadCatalog(cfg *config.Config) (*prompt.Catalog, error) {
	if cfg.PromptsFile == "" {
		return prompt.Builtin(), nil
	}
	return prompt.Load(cfg.PromptsFile)
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	var p story.Prompt
	if len(args) == 1 {
		p, err = catalog.Lookup(args[0])
		if errors.Is(err, prompt.ErrNotFound) {
			return fmt.Errorf("%w (run storybooth prompts for the list)", err)
		}
	} else if all := catalog.All(); len(all) > 0 {
		p = all[0]
	} else {
		err = prompt.ErrEmpty
	}
	if err != nil {
		return err
	}
	sink, err := submit.New(cfg.SinkConfig())
	if err != nil {
		return err
	}

	ctx, stop := shutdown.Context(cmd.Context())
	defer stop()

	if !cfg.Chimes || flags.test {
		playback.Disable()
	}
	go playback.Init()

	if flags.test {
		return runScriptMode(ctx, cfg, p, sink, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	audio, err := capture.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		return fmt.Errorf("initializing audio: %w (%s)", err, audioHint)
	}
	defer audio.Close()

	if flags.setup {
		devs, err := audio.Devices()
		if err != nil {
			return fmt.Errorf("listing microphones: %w", err)
		}
		dev, err := pickDevice("Select microphone", devs, os.Stdin, os.Stdout)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\nFalling back to default device\n", err)
		} else if dev != nil {
			cfg.Microphone = dev.ID
		}
	}

	var camera capture.VideoSource
	if cfg.Video {
		if err := capture.CheckFFmpeg(); err != nil {
			log.Warnf("video stories disabled: %v", err)
		} else {
			camera = capture.NewFFmpegCamera()
		}
	}

	a := newApp(cfg, p, appDeps{Audio: audio, Camera: camera, Sink: sink})
	defer a.close()
	return runTUI(ctx, a)
}

func runScriptMode(ctx context.Context, cfg *config.Config, p story.Prompt, sink submit.Sink, in io.Reader, out io.Writer) error {
	audio := capture.NewToneContext(true)
	if flags.wav != "" {
		var err error
		if audio, err = capture.NewFakeContext(flags.wav, true); err != nil {
			return fmt.Errorf("loading WAV: %w", err)
		}
	}
	camera := &capture.FakeCamera{}

	a := newApp(cfg, p, appDeps{Audio: audio, Camera: camera, Sink: sink})
	a.clipboard = false
	defer a.close()

	env := &scriptEnv{app: a, audio: audio, camera: camera, out: out, manual: flags.manual}
	return env.run(ctx, in)
}

func runPrompts(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROMPT")
	for _, p := range catalog.All() {
		fmt.Fprintf(tw, "%s\t%s\n", p.ID, p.Text)
	}
	return tw.Flush()
}

func runDevices(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	audio, err := capture.NewContext()
	if err != nil {
		return fmt.Errorf("initializing audio: %w (%s)", err, audioHint)
	}
	defer audio.Close()

	mics, err := audio.Devices()
	if err != nil {
		return fmt.Errorf("listing microphones: %w", err)
	}

	if flags.selectMic {
		dev, err := pickDevice("Select microphone", mics, os.Stdin, out)
		if err != nil || dev == nil {
			return err
		}
		fmt.Fprintf(out, "\nAdd this to %s:\n\n  microphone = %q\n\nor export STORYBOOTH_MICROPHONE=%q\n", config.FilePath(), dev.ID, dev.ID)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tID\tNAME")
	for _, m := range mics {
		fmt.Fprintf(tw, "microphone\t%s\t%s\n", m.ID, m.Name)
	}
	if err := capture.CheckFFmpeg(); err != nil {
		tw.Flush()
		fmt.Fprintf(out, "\ncameras unavailable: %v\n", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	cams, err := capture.NewFFmpegCamera().Devices(ctx)
	if err != nil {
		log.Warnf("list cameras: %v", err)
	}
	for _, c := range cams {
		fmt.Fprintf(tw, "camera\t%s\t%s\n", c.ID, c.Name)
	}
	return tw.Flush()
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := shutdown.Context(cmd.Context())
	defer stop()
	code := doctor.Run(ctx, doctor.Options{
		Config:      cfg,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
	})
	if code != 0 {
		log.Close()
		os.Exit(code)
	}
	return nil
}
