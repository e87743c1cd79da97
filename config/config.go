// Package config loads storybooth settings from config.toml and the
// environment. Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"storybooth/media"
	"storybooth/submit"
)

type Config struct {
	DataDir     string // recordings, grants and the outbox live here
	PromptsFile string
	Microphone  string
	Camera      string
	Quality     media.Quality
	Video       bool // camera capture through ffmpeg
	Chimes      bool
	Sink        Sink
}

type Sink struct {
	Kind     string
	URL      string
	Token    string
	Outbox   string
	Delay    time.Duration
	MaxTries uint
}

type fileConfig struct {
	DataDir     string `toml:"data_dir"`
	PromptsFile string `toml:"prompts"`
	Microphone  string `toml:"microphone"`
	Camera      string `toml:"camera"`
	Quality     string `toml:"quality"`
	Video       *bool  `toml:"video"`
	Chimes      *bool  `toml:"chimes"`
	Sink        struct {
		Kind     string   `toml:"kind"`
		URL      string   `toml:"url"`
		Token    string   `toml:"token"`
		Outbox   string   `toml:"outbox"`
		Delay    duration `toml:"delay"`
		MaxTries uint     `toml:"max_tries"`
	} `toml:"sink"`
}

type duration struct{ time.Duration }

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir: dataDir,
		Quality: media.Quality1080p,
		Video:   true,
		Chimes:  true,
		Sink: Sink{
			Outbox: filepath.Join(dataDir, "outbox"),
			Delay:  submit.DefaultDelay,
		},
	}
}

// Load reads path, or the default location when path is empty. A missing
// default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = FilePath()
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) readFile(path string) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if fc.DataDir != "" {
		cfg.DataDir = expandTilde(fc.DataDir)
		cfg.Sink.Outbox = filepath.Join(cfg.DataDir, "outbox")
	}
	if fc.PromptsFile != "" {
		cfg.PromptsFile = expandTilde(fc.PromptsFile)
	}
	cfg.Microphone = fc.Microphone
	cfg.Camera = fc.Camera
	if fc.Quality != "" {
		cfg.Quality = media.Quality(fc.Quality)
	}
	if fc.Video != nil {
		cfg.Video = *fc.Video
	}
	if fc.Chimes != nil {
		cfg.Chimes = *fc.Chimes
	}
	cfg.Sink.Kind = fc.Sink.Kind
	cfg.Sink.URL = fc.Sink.URL
	cfg.Sink.Token = fc.Sink.Token
	if fc.Sink.Outbox != "" {
		cfg.Sink.Outbox = expandTilde(fc.Sink.Outbox)
	}
	if fc.Sink.Delay.Duration > 0 {
		cfg.Sink.Delay = fc.Sink.Delay.Duration
	}
	cfg.Sink.MaxTries = fc.Sink.MaxTries
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("STORYBOOTH_DATA_DIR"); v != "" {
		cfg.DataDir = expandTilde(v)
		cfg.Sink.Outbox = filepath.Join(cfg.DataDir, "outbox")
	}
	if v := os.Getenv("STORYBOOTH_PROMPTS"); v != "" {
		cfg.PromptsFile = expandTilde(v)
	}
	if v := os.Getenv("STORYBOOTH_MICROPHONE"); v != "" {
		cfg.Microphone = v
	}
	if v := os.Getenv("STORYBOOTH_CAMERA"); v != "" {
		cfg.Camera = v
	}
	if v := os.Getenv("STORYBOOTH_QUALITY"); v != "" {
		cfg.Quality = media.Quality(v)
	}
	if v := os.Getenv("STORYBOOTH_SINK"); v != "" {
		cfg.Sink.Kind = v
	}
	if v := os.Getenv("STORYBOOTH_SINK_URL"); v != "" {
		cfg.Sink.URL = v
	}
	if v := os.Getenv("STORYBOOTH_SINK_TOKEN"); v != "" {
		cfg.Sink.Token = v
	}
	if v := os.Getenv("STORYBOOTH_OUTBOX"); v != "" {
		cfg.Sink.Outbox = expandTilde(v)
	}
	if v := os.Getenv("STORYBOOTH_VIDEO"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STORYBOOTH_VIDEO: %w", err)
		}
		cfg.Video = b
	}
	return nil
}

func (cfg *Config) Validate() error {
	q, err := media.ParseQuality(string(cfg.Quality))
	if err != nil {
		return err
	}
	cfg.Quality = q
	switch cfg.Sink.Kind {
	case "", "http", "outbox", "delay":
	default:
		return fmt.Errorf("unknown sink %q (use http, outbox or delay)", cfg.Sink.Kind)
	}
	if cfg.Sink.Kind == "http" && cfg.Sink.URL == "" {
		return fmt.Errorf("sink kind http needs sink.url")
	}
	return nil
}

// Settings returns the device settings a session starts with.
func (cfg *Config) Settings() media.Settings {
	return media.Settings{Microphone: cfg.Microphone, Camera: cfg.Camera, Quality: cfg.Quality}
}

func (cfg *Config) SinkConfig() submit.Config {
	return submit.Config{
		Kind:      cfg.Sink.Kind,
		URL:       cfg.Sink.URL,
		Token:     cfg.Sink.Token,
		OutboxDir: cfg.Sink.Outbox,
		Delay:     cfg.Sink.Delay,
		MaxTries:  cfg.Sink.MaxTries,
	}
}

func (cfg *Config) TakesDir() string { return filepath.Join(cfg.DataDir, "takes") }
func (cfg *Config) StateDir() string { return cfg.DataDir }

// FilePath is $XDG_CONFIG_HOME/storybooth/config.toml, or ~/.config/... when
// XDG_CONFIG_HOME is unset.
func FilePath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "storybooth", "config.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "storybooth", "config.toml")
	}
	return ""
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "storybooth")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "storybooth")
	}
	return filepath.Join(".", "storybooth")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
