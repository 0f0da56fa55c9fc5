// Package config loads scriptfx.toml settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/isolation"
	"github.com/justyntemme/scriptfx/pkg/framework/realtime"
)

// FileName is the conventional configuration file name.
const FileName = "scriptfx.toml"

// MaxPresets is the size of the preset bank.
const MaxPresets = 6

// Config is the full configuration.
type Config struct {
	Audio  Audio  `toml:"audio"`
	Bridge Bridge `toml:"bridge"`
	Log    Log    `toml:"log"`
	Editor Editor `toml:"editor"`
}

// Audio describes the simulated or host-provided stream.
type Audio struct {
	SampleRate float64 `toml:"sample_rate"`
	BlockSize  int     `toml:"block_size"`
	Channels   int     `toml:"channels"`
}

// Bridge tunes the script bridge.
type Bridge struct {
	Engine            string   `toml:"engine"`
	QueueCapacity     int      `toml:"queue_capacity"`
	ControlCapacity   int      `toml:"control_capacity"`
	FaultThreshold    int      `toml:"fault_threshold"`
	TimeoutMultiplier float64  `toml:"timeout_multiplier"`
	MinTimeout        Duration `toml:"min_timeout"`
	Fallback          string   `toml:"fallback"`
	SmoothingMs       float64  `toml:"smoothing_ms"`
	Presets           []string `toml:"presets"`
}

// Log selects level and format of the default logger.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Editor configures the editor link.
type Editor struct {
	Listen         string   `toml:"listen"`
	StatusInterval Duration `toml:"status_interval"`
}

// Duration is a time.Duration written as a string such as "5ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the documented defaults.
func Default() Config {
	iso := isolation.DefaultConfig()
	return Config{
		Audio: Audio{
			SampleRate: 48000,
			BlockSize:  256,
			Channels:   2,
		},
		Bridge: Bridge{
			Engine:            "hcl",
			QueueCapacity:     4,
			ControlCapacity:   16,
			FaultThreshold:    iso.Threshold,
			TimeoutMultiplier: iso.Multiplier,
			MinTimeout:        Duration{iso.MinTimeout},
			Fallback:          "silence",
			SmoothingMs:       10,
		},
		Log: Log{
			Level:  "info",
			Format: debug.FormatText,
		},
		Editor: Editor{
			Listen:         "127.0.0.1:7070",
			StatusInterval: Duration{100 * time.Millisecond},
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults and validates the result.
func Parse(text string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	var errs []error
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 384000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %v out of range [8000, 384000]", c.Audio.SampleRate))
	}
	if c.Audio.BlockSize < 1 || c.Audio.BlockSize > 8192 {
		errs = append(errs, fmt.Errorf("audio.block_size %d out of range [1, 8192]", c.Audio.BlockSize))
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels))
	}
	switch c.Bridge.Engine {
	case "hcl", "js":
	default:
		errs = append(errs, fmt.Errorf("bridge.engine must be \"hcl\" or \"js\", got %q", c.Bridge.Engine))
	}
	if c.Bridge.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("bridge.queue_capacity must be at least 1, got %d", c.Bridge.QueueCapacity))
	}
	if c.Bridge.ControlCapacity < 1 {
		errs = append(errs, fmt.Errorf("bridge.control_capacity must be at least 1, got %d", c.Bridge.ControlCapacity))
	}
	if err := c.Isolation().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := realtime.ParseFallback(c.Bridge.Fallback); err != nil {
		errs = append(errs, fmt.Errorf("bridge.fallback: %w", err))
	}
	if c.Bridge.SmoothingMs < 0 {
		errs = append(errs, fmt.Errorf("bridge.smoothing_ms must not be negative, got %v", c.Bridge.SmoothingMs))
	}
	if len(c.Bridge.Presets) > MaxPresets {
		errs = append(errs, fmt.Errorf("bridge.presets holds at most %d sources, got %d", MaxPresets, len(c.Bridge.Presets)))
	}
	if _, err := debug.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != debug.FormatText && c.Log.Format != debug.FormatJSON {
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", debug.FormatText, debug.FormatJSON, c.Log.Format))
	}
	if c.Editor.StatusInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("editor.status_interval must be positive, got %v", c.Editor.StatusInterval.Duration))
	}
	return errors.Join(errs...)
}

// Isolation returns the failure-isolation settings.
func (c Config) Isolation() isolation.Config {
	return isolation.Config{
		Threshold:  c.Bridge.FaultThreshold,
		Multiplier: c.Bridge.TimeoutMultiplier,
		MinTimeout: c.Bridge.MinTimeout.Duration,
	}
}

// Fallback returns the parsed fallback mode. Call after Validate.
func (c Config) Fallback() realtime.Fallback {
	f, _ := realtime.ParseFallback(c.Bridge.Fallback)
	return f
}

// Logger builds a logger writing to w from the [log] section.
func (c Config) Logger(w io.Writer) (*debug.Logger, error) {
	level, err := debug.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return debug.New(w, c.Log.Format, level), nil
}
