// File: internal/config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package config loads daemon settings from flags, environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/momentics/wsreactor/internal/logging"
	"github.com/momentics/wsreactor/protocol"
	"github.com/momentics/wsreactor/server"
)

// EnvPrefix prefixes every environment override, e.g. WSD_PORT.
const EnvPrefix = "WSD"

// DefaultConfigName is looked up in the working directory when no --config
// flag is given.
const DefaultConfigName = "wsd"

// Config holds all settings of the daemon.
// The `mapstructure` tags map the fields to viper keys.
type Config struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	MaxBufferSize int    `mapstructure:"max_buffer_size"`

	OriginRequired      bool     `mapstructure:"origin_required"`
	ProtocolRequired    bool     `mapstructure:"protocol_required"`
	ExtensionsRequired  bool     `mapstructure:"extensions_required"`
	AllowedOrigins      []string `mapstructure:"allowed_origins"`
	AllowedHosts        []string `mapstructure:"allowed_hosts"`
	SupportedProtocols  []string `mapstructure:"supported_protocols"`
	SupportedExtensions []string `mapstructure:"supported_extensions"`

	// Timeouts are whole seconds.
	PingTimeout  int `mapstructure:"ping_timeout"`
	PollTimeout  int `mapstructure:"poll_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`

	MaxMessageSize     int64 `mapstructure:"max_message_size"`
	FragmentSize       int   `mapstructure:"fragment_size"`
	CloseOnInvalidUTF8 bool  `mapstructure:"close_on_invalid_utf8"`
	AcceptUnmasked     bool  `mapstructure:"accept_unmasked"`

	LoggingEnabled bool   `mapstructure:"logging_enabled"`
	LoggingOutput  string `mapstructure:"logging_output"`
	LogDir         string `mapstructure:"log_dir"`
	LogLevel       string `mapstructure:"log_level"`
	LogJSON        bool   `mapstructure:"log_json"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	// File is the config file actually read, empty when none was found.
	File string
}

var defaults = map[string]interface{}{
	"host":                  "0.0.0.0",
	"port":                  6001,
	"max_buffer_size":       4096,
	"origin_required":       false,
	"protocol_required":     false,
	"extensions_required":   false,
	"allowed_origins":       []string{},
	"allowed_hosts":         []string{},
	"supported_protocols":   []string{},
	"supported_extensions":  []string{},
	"ping_timeout":          0,
	"poll_timeout":          5,
	"write_timeout":         5,
	"max_message_size":      int64(16 << 20),
	"fragment_size":         0,
	"close_on_invalid_utf8": false,
	"accept_unmasked":       false,
	"logging_enabled":       true,
	"logging_output":        logging.OutputStdout,
	"log_dir":               "logs",
	"log_level":             "info",
	"log_json":              false,
	"metrics_addr":          "",
}

// Flags registers the command line flags of the serve command. Flag names use
// dashes; they map onto the underscore keys above.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default is ./wsd.yaml when present)")
	fs.String("host", "0.0.0.0", "interface to listen on")
	fs.Int("port", 6001, "TCP port to listen on")
	fs.Int("max-buffer-size", 4096, "bytes requested per socket read")
	fs.Bool("origin-required", false, "reject handshakes without an Origin header")
	fs.Bool("protocol-required", false, "require a negotiated subprotocol")
	fs.Bool("extensions-required", false, "require a negotiated extension")
	fs.StringSlice("allowed-origins", nil, "accepted Origin values (empty = any)")
	fs.StringSlice("allowed-hosts", nil, "accepted Host values (empty = any)")
	fs.StringSlice("supported-protocols", nil, "subprotocols the server speaks")
	fs.StringSlice("supported-extensions", nil, "extension tokens the server accepts")
	fs.Int("ping-timeout", 0, "disconnect clients idle for this many seconds (0 disables)")
	fs.Int("poll-timeout", 5, "maximum seconds per readiness wait")
	fs.Int("write-timeout", 5, "seconds a stalled write may block the loop")
	fs.Int64("max-message-size", 16<<20, "largest accepted frame or message in bytes (0 = unlimited)")
	fs.Int("fragment-size", 0, "split outbound messages into frames of this size (0 = never)")
	fs.Bool("close-on-invalid-utf8", false, "close with 1007 on invalid UTF-8 text instead of dropping it")
	fs.Bool("accept-unmasked", false, "tolerate unmasked client frames")
	fs.Bool("logging-enabled", true, "enable logging")
	fs.String("logging-output", logging.OutputStdout, "log destination: stdout or file")
	fs.String("log-dir", "logs", "directory for file logs")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("log-json", false, "JSON log lines on stdout")
	fs.String("metrics-addr", "", "serve /metrics and /debug/state on this address (empty disables)")
}

// Key converts a flag name to its configuration key.
func Key(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

// BindFlags binds every flag of fs to v under its configuration key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr := v.BindPFlag(Key(f.Name), f); bindErr != nil && err == nil {
			err = bindErr
		}
	})
	return err
}

// Load resolves the configuration held by v.
// Flags -> Env -> Config file -> Defaults
// Earlier sources take precedence.
func Load(v *viper.Viper) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(DefaultConfigName)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.MaxBufferSize <= 0:
		return fmt.Errorf("max_buffer_size must be positive, got %d", c.MaxBufferSize)
	case c.PollTimeout <= 0:
		return fmt.Errorf("poll_timeout must be positive, got %d", c.PollTimeout)
	case c.PingTimeout < 0:
		return fmt.Errorf("ping_timeout must not be negative, got %d", c.PingTimeout)
	case c.WriteTimeout < 0:
		return fmt.Errorf("write_timeout must not be negative, got %d", c.WriteTimeout)
	case c.MaxMessageSize < 0:
		return fmt.Errorf("max_message_size must not be negative, got %d", c.MaxMessageSize)
	case c.FragmentSize < 0:
		return fmt.Errorf("fragment_size must not be negative, got %d", c.FragmentSize)
	}
	switch c.LoggingOutput {
	case logging.OutputStdout, logging.OutputFile:
	default:
		return fmt.Errorf("logging_output must be %q or %q, got %q", logging.OutputStdout, logging.OutputFile, c.LoggingOutput)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Addr is the listen address built from host and port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerConfig converts the loaded settings to the reactor configuration.
func (c *Config) ServerConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.Addr = c.Addr()
	sc.MaxBufferSize = c.MaxBufferSize
	sc.PingTimeout = seconds(c.PingTimeout)
	sc.PollTimeout = seconds(c.PollTimeout)
	sc.WriteTimeout = seconds(c.WriteTimeout)
	sc.MaxMessageSize = c.MaxMessageSize
	sc.FragmentSize = c.FragmentSize
	sc.CloseOnInvalidUTF8 = c.CloseOnInvalidUTF8
	sc.AcceptUnmasked = c.AcceptUnmasked
	sc.Handshake = protocol.Policy{
		AllowedHosts:        c.AllowedHosts,
		OriginRequired:      c.OriginRequired,
		AllowedOrigins:      c.AllowedOrigins,
		ProtocolRequired:    c.ProtocolRequired,
		SupportedProtocols:  c.SupportedProtocols,
		ExtensionsRequired:  c.ExtensionsRequired,
		SupportedExtensions: c.SupportedExtensions,
	}
	return sc
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	return logging.Config{
		Enabled: c.LoggingEnabled,
		Output:  c.LoggingOutput,
		Dir:     c.LogDir,
		Level:   c.LogLevel,
		JSON:    c.LogJSON,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
