package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justyntemme/scriptfx/pkg/framework/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	iso := cfg.Isolation()
	assert.Equal(t, 8, iso.Threshold)
	assert.Equal(t, 3.0, iso.Multiplier)
	assert.Equal(t, 5*time.Millisecond, iso.MinTimeout)
	assert.Equal(t, realtime.FallbackSilence, cfg.Fallback())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse(`
[audio]
sample_rate = 44100
channels = 1

[bridge]
engine = "js"
min_timeout = "12ms"
fallback = "passthrough"
presets = ["1.0", "0.5"]

[editor]
status_interval = "250ms"
`)
	require.NoError(t, err)

	assert.Equal(t, 44100.0, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, 256, cfg.Audio.BlockSize, "unset keys keep their default")
	assert.Equal(t, "js", cfg.Bridge.Engine)
	assert.Equal(t, 12*time.Millisecond, cfg.Bridge.MinTimeout.Duration)
	assert.Equal(t, realtime.FallbackPassthrough, cfg.Fallback())
	assert.Equal(t, []string{"1.0", "0.5"}, cfg.Bridge.Presets)
	assert.Equal(t, 250*time.Millisecond, cfg.Editor.StatusInterval.Duration)
	assert.Equal(t, "127.0.0.1:7070", cfg.Editor.Listen)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"syntax", "[audio\n", "parse error"},
		{"unknown key", "[audio]\nbogus = 1\n", "unknown key"},
		{"channels", "[audio]\nchannels = 3\n", "audio.channels"},
		{"engine", "[bridge]\nengine = \"lua\"\n", "bridge.engine"},
		{"threshold", "[bridge]\nfault_threshold = 0\n", "threshold"},
		{"duration", "[bridge]\nmin_timeout = \"soon\"\n", "parse error"},
		{"fallback", "[bridge]\nfallback = \"loud\"\n", "bridge.fallback"},
		{"presets", "[bridge]\npresets = [\"1\",\"1\",\"1\",\"1\",\"1\",\"1\",\"1\"]\n", "bridge.presets"},
		{"log level", "[log]\nlevel = \"chatty\"\n", "log.level"},
		{"log format", "[log]\nformat = \"xml\"\n", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("[audio]\nblock_size = 64\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Audio.BlockSize)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read")
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "off"
	l, err := cfg.Logger(io.Discard)
	require.NoError(t, err)
	assert.False(t, l.IsEnabled())

	var buf bytes.Buffer
	cfg.Log.Level, cfg.Log.Format = "info", "json"
	l, err = cfg.Logger(&buf)
	require.NoError(t, err)
	l.Info("hello %d", 1)
	assert.Contains(t, buf.String(), `"msg":"hello 1"`)
}
