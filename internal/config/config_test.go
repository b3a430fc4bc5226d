package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, used, err := Load("", nil)
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
codec: msgpack
timeout: 5s
log_level: debug
`)
	t.Setenv("LEAPFRAME_CODEC", "json")
	t.Setenv("LEAPFRAME_FORMAT", "arrow")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("format", "", "")
	flags.String("log-level", "", "")
	flags.Duration("timeout", 0, "")
	require.NoError(t, flags.Parse([]string{"--log-level", "warn"}))

	cfg, used, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, path, used)

	assert.Equal(t, ":9000", cfg.Listen, "file over default")
	assert.Equal(t, "json", cfg.Codec, "env over file")
	assert.Equal(t, "arrow", cfg.Format, "env over default")
	assert.Equal(t, "warn", cfg.LogLevel, "flag over file")
	assert.Equal(t, 5*time.Second, cfg.Timeout, "unset flag keeps file value")

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}

func TestLoadFindsDefaultFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileNameAlt), []byte("output: json\n"), 0o600))
	t.Chdir(dir)

	cfg, used, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, ConfigFileNameAlt, used)
	assert.Equal(t, "json", cfg.Output)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errSubstr string
	}{
		{name: "bad codec", content: "codec: xml\n", errSubstr: `invalid codec "xml"`},
		{name: "bad transport", content: "transport: carrier-pigeon\n", errSubstr: "invalid transport"},
		{name: "bad level", content: "log_level: loud\n", errSubstr: "invalid log_level"},
		{name: "negative timeout", content: "timeout: -1s\n", errSubstr: "must not be negative"},
		{name: "bad yaml", content: "listen: [\n", errSubstr: "error reading config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}
