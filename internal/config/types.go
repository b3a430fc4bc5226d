// Package config loads leapframe settings from defaults, a YAML file,
// LEAPFRAME_ environment variables and command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Config holds all leapframe settings.
type Config struct {
	// Listen is the address serve binds.
	Listen string `koanf:"listen"`
	// Transport is how query reaches a worker: websocket or stdio.
	Transport string `koanf:"transport"`
	// Codec encodes protocol envelopes: json or msgpack.
	Codec string `koanf:"codec"`
	// Format is the table transfer format: json or arrow.
	Format  string        `koanf:"format"`
	Timeout time.Duration `koanf:"timeout"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `koanf:"log_level"`
	// Output is auto, table or json.
	Output string `koanf:"output"`
	// URL is the worker endpoint clients dial.
	URL string `koanf:"url"`
}

// Default configuration values.
const (
	DefaultListen    = ":8787"
	DefaultTransport = "websocket"
	DefaultCodec     = "json"
	DefaultFormat    = "json"
	DefaultTimeout   = 30 * time.Second
	DefaultLogLevel  = "info"
	DefaultOutput    = "auto" // table on a terminal, json otherwise
	DefaultURL       = "ws://localhost:8787/ws"
)

// Default returns the configuration with every default applied.
func Default() *Config {
	return &Config{
		Listen:    DefaultListen,
		Transport: DefaultTransport,
		Codec:     DefaultCodec,
		Format:    DefaultFormat,
		Timeout:   DefaultTimeout,
		LogLevel:  DefaultLogLevel,
		Output:    DefaultOutput,
		URL:       DefaultURL,
	}
}

func oneOf(key, value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		return fmt.Errorf("invalid %s %q: want one of %s", key, value, strings.Join(allowed, ", "))
	}
	return nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	checks := []error{
		oneOf("transport", c.Transport, "websocket", "stdio"),
		oneOf("codec", c.Codec, "json", "msgpack"),
		oneOf("format", c.Format, "json", "arrow"),
		oneOf("output", c.Output, "auto", "table", "json"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
