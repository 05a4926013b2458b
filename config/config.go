// Package config loads callbridge settings from defaults, an optional YAML
// file, CALLBRIDGE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CALLBRIDGE_RTP_PORT.
const EnvPrefix = "CALLBRIDGE"

// ErrInvalidConfig indicates a setting out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// RingbackConfig holds the ringback cadence.
type RingbackConfig struct {
	FrequencyA   float64       `mapstructure:"frequency_a"`
	FrequencyB   float64       `mapstructure:"frequency_b"`
	ToneDuration time.Duration `mapstructure:"tone_duration"`
	Gap          time.Duration `mapstructure:"gap"`
	Pause        time.Duration `mapstructure:"pause"`
}

// Config holds all callbridge settings.
type Config struct {
	Mode         string         `mapstructure:"mode"`
	RTPPort      int            `mapstructure:"rtp_port"`
	HTTPAddr     string         `mapstructure:"http_addr"`
	PrimaryPath  string         `mapstructure:"primary_path"`
	FallbackPath string         `mapstructure:"fallback_path"`
	QueueDepth   int            `mapstructure:"queue_depth"`
	LogLevel     string         `mapstructure:"log_level"`
	LogFormat    string         `mapstructure:"log_format"`
	LogFile      string         `mapstructure:"log_file"`
	Ringback     RingbackConfig `mapstructure:"ringback"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"mode":          "mode",
	"rtp-port":      "rtp_port",
	"http-addr":     "http_addr",
	"primary-path":  "primary_path",
	"fallback-path": "fallback_path",
	"queue-depth":   "queue_depth",
	"log-level":     "log_level",
	"log-format":    "log_format",
	"log-file":      "log_file",
}

// Loader reads the configuration and can watch the config file.
type Loader struct {
	v     *viper.Viper
	flags *pflag.FlagSet
}

// NewLoader creates a loader with its flag set registered.
func NewLoader(name string) *Loader {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("mode", "release", "HTTP server mode (release, debug)")
	fs.Int("rtp-port", 10000, "UDP port for RTP media")
	fs.String("http-addr", ":8080", "HTTP listen address for the API and media channels")
	fs.String("primary-path", "/media-stream", "Primary media channel path")
	fs.String("fallback-path", "/api/media-stream", "Fallback media channel path")
	fs.Int("queue-depth", 50, "Frames buffered per call before the oldest are dropped")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text, json)")
	fs.String("log-file", "", "Log file path, rotated automatically (default: stderr)")

	return &Loader{v: v, flags: fs}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("rtp_port", 10000)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("primary_path", "/media-stream")
	v.SetDefault("fallback_path", "/api/media-stream")
	v.SetDefault("queue_depth", 50)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("ringback.frequency_a", 440.0)
	v.SetDefault("ringback.frequency_b", 480.0)
	v.SetDefault("ringback.tone_duration", "400ms")
	v.SetDefault("ringback.gap", "200ms")
	v.SetDefault("ringback.pause", "2s")
}

// Flags returns the flag set, for usage output.
func (l *Loader) Flags() *pflag.FlagSet {
	return l.flags
}

// Load parses args and returns the merged configuration.
//
// Parameters:
//   - args: Command-line arguments without the program name
//
// Returns:
//   - *Config: The validated configuration
//   - error: Flag parse, file read, decode or validation error
func (l *Loader) Load(args []string) (*Config, error) {
	if err := l.flags.Parse(args); err != nil {
		return nil, err
	}

	for flagName, key := range flagKeys {
		if err := l.v.BindPFlag(key, l.flags.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()

	if err := l.readConfigFile(); err != nil {
		return nil, err
	}

	return l.decode()
}

func (l *Loader) readConfigFile() error {
	path, _ := l.flags.GetString("config")
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		l.v.SetConfigName("callbridge")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./config")
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read config: %w", err)
			}
			logrus.WithFields(logrus.Fields{
				"function": "Loader.Load",
			}).Debug("No config file found, using defaults")
			return nil
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Loader.Load",
		"file":     l.v.ConfigFileUsed(),
	}).Info("Loaded config file")
	return nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the config file when it changes and passes every valid new
// configuration to onChange. It does nothing when no file was loaded.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(event fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Loader.Watch",
				"file":     event.Name,
				"error":    err.Error(),
			}).Warn("Ignoring invalid config change")
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "Loader.Watch",
			"file":     event.Name,
			"op":       event.Op.String(),
		}).Info("Config reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.RTPPort < 0 || c.RTPPort > 65535 {
		return fmt.Errorf("%w: rtp_port %d out of range", ErrInvalidConfig, c.RTPPort)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: http_addr is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.PrimaryPath, "/") {
		return fmt.Errorf("%w: primary_path %q must start with /", ErrInvalidConfig, c.PrimaryPath)
	}
	if c.FallbackPath != "" && !strings.HasPrefix(c.FallbackPath, "/") {
		return fmt.Errorf("%w: fallback_path %q must start with /", ErrInvalidConfig, c.FallbackPath)
	}
	if c.FallbackPath == c.PrimaryPath {
		return fmt.Errorf("%w: fallback_path must differ from primary_path", ErrInvalidConfig)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("%w: queue_depth must be positive", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	switch c.Mode {
	case "release", "debug", "test":
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Ringback.ToneDuration < 0 || c.Ringback.Gap < 0 || c.Ringback.Pause < 0 {
		return fmt.Errorf("%w: ringback durations must not be negative", ErrInvalidConfig)
	}
	return nil
}
