// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package config loads hub settings from a YAML file and command line
// flags. Flags that were set explicitly win over the file; flag defaults
// fill whatever the file leaves out.
package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/adchub/adchub/internal/route"
)

// Default values for hub settings.
const (
	DefaultListen            = ":1511"
	DefaultHubName           = "adchub"
	DefaultMaxUsers          = 500
	DefaultMaxSendBuffer     = 128 * 1024
	DefaultMaxSendBufferSoft = 96 * 1024
	DefaultMaxLineLength     = 64 * 1024
	DefaultMetricsAddr       = "127.0.0.1:9100"
	DefaultLogFormat         = "json"
	DefaultLogLevel          = "info"
)

// Config is the complete hub configuration.
type Config struct {
	Listen            string `koanf:"listen"`
	HubName           string `koanf:"hub_name"`
	HubDescription    string `koanf:"hub_description"`
	MaxUsers          int    `koanf:"max_users"`
	MaxSendBuffer     int    `koanf:"max_send_buffer"`
	MaxSendBufferSoft int    `koanf:"max_send_buffer_soft"`
	MaxLineLength     int    `koanf:"max_line_length"`
	NATOverride       bool   `koanf:"nat_override"`
	MetricsAddr       string `koanf:"metrics_addr"`
	LogFormat         string `koanf:"log_format"`
	LogLevel          string `koanf:"log_level"`

	Stats StatsConfig `koanf:"stats"`
}

// StatsConfig configures the statistics plugin.
type StatsConfig struct {
	Enabled     bool   `koanf:"enabled"`
	DatabaseURL string `koanf:"database_url"`
}

// RegisterFlags adds a flag for every setting to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("listen", DefaultListen, "client listen address")
	fs.String("hub-name", DefaultHubName, "hub name sent to clients")
	fs.String("hub-description", "", "hub description sent to clients")
	fs.Int("max-users", DefaultMaxUsers, "maximum number of logged in users")
	fs.Int("max-send-buffer", DefaultMaxSendBuffer, "per-user send queue hard limit in bytes (0 = unlimited)")
	fs.Int("max-send-buffer-soft", DefaultMaxSendBufferSoft, "per-user send queue soft limit in bytes (0 = unlimited)")
	fs.Int("max-line-length", DefaultMaxLineLength, "longest accepted protocol line in bytes")
	fs.Bool("nat-override", false, "substitute the peer address for users announcing I40.0.0.0")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.Bool("stats-enabled", false, "enable the statistics plugin")
	fs.String("stats-database-url", "", "statistics database URL (default: DATABASE_URL)")
}

// flagKey maps a flag name to its config key: "max-send-buffer" becomes
// "max_send_buffer" and "stats-database-url" becomes "stats.database_url".
func flagKey(name string) string {
	if rest, ok := strings.CutPrefix(name, "stats-"); ok {
		return "stats." + strings.ReplaceAll(rest, "-", "_")
	}
	return strings.ReplaceAll(name, "-", "_")
}

// Load reads path (skipped when empty) and then fs.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			return flagKey(f.Name), posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}

	if cfg.Stats.DatabaseURL == "" {
		cfg.Stats.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

var (
	validLogFormats = map[string]bool{"json": true, "text": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(field string, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
	}

	switch {
	case c.Listen == "":
		return invalid("listen", "listen address is required")
	case c.HubName == "":
		return invalid("hub_name", "hub name is required")
	case c.MaxUsers <= 0:
		return invalid("max_users", "max_users must be positive, got %d", c.MaxUsers)
	case c.MaxSendBuffer < 0:
		return invalid("max_send_buffer", "max_send_buffer must not be negative, got %d", c.MaxSendBuffer)
	case c.MaxSendBufferSoft < 0:
		return invalid("max_send_buffer_soft", "max_send_buffer_soft must not be negative, got %d", c.MaxSendBufferSoft)
	case c.MaxSendBuffer > 0 && c.MaxSendBufferSoft > c.MaxSendBuffer:
		return invalid("max_send_buffer_soft", "soft limit %d exceeds hard limit %d", c.MaxSendBufferSoft, c.MaxSendBuffer)
	case c.MaxLineLength <= 0:
		return invalid("max_line_length", "max_line_length must be positive, got %d", c.MaxLineLength)
	case !validLogFormats[c.LogFormat]:
		return invalid("log_format", "log_format must be 'json' or 'text', got %q", c.LogFormat)
	case !validLogLevels[c.LogLevel]:
		return invalid("log_level", "unknown log level %q", c.LogLevel)
	case c.Stats.Enabled && c.Stats.DatabaseURL == "":
		return invalid("stats.database_url", "stats plugin needs a database url")
	}
	return nil
}

// Limits returns the send queue limits.
func (c *Config) Limits() route.Limits {
	return route.Limits{
		MaxSendBuffer:     c.MaxSendBuffer,
		MaxSendBufferSoft: c.MaxSendBufferSoft,
	}
}
