package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/navble/internal/gattc"
	"github.com/srg/navble/internal/navigation"
	"github.com/srg/navble/internal/radio"
)

// TargetConfig identifies the navigation source. Tag and Signature are hex.
type TargetConfig struct {
	Tag                string `yaml:"tag" default:"07"`
	Signature          string `yaml:"signature" default:"6c43b31d170fb2a2a84f2fd928e1c171"`
	ServiceUUID        string `yaml:"service_uuid" default:"71c1e128-d92f-4fa8-a2b2-0f171db3436c"`
	CharacteristicUUID string `yaml:"characteristic_uuid" default:"503dd605-9bcb-4f6e-b235-270a57483026"`
}

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// GATT client
	Timeout      time.Duration `yaml:"timeout" default:"30s"`
	PollInterval time.Duration `yaml:"poll_interval" default:"10ms"`
	InboxSize    uint32        `yaml:"inbox_size" default:"256"`

	// Navigator
	ScanWindow   time.Duration `yaml:"scan_window" default:"1s"`
	SetupTimeout time.Duration `yaml:"setup_timeout" default:"10s"`
	NavInterval  time.Duration `yaml:"nav_interval" default:"5s"`
	RetryDelay   time.Duration `yaml:"retry_delay" default:"10s"`
	MaxFailures  int           `yaml:"max_failures" default:"5"`

	Target TargetConfig `yaml:"target"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]time.Duration{
		"timeout":       c.Timeout,
		"poll_interval": c.PollInterval,
		"scan_window":   c.ScanWindow,
		"setup_timeout": c.SetupTimeout,
		"nav_interval":  c.NavInterval,
		"retry_delay":   c.RetryDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.InboxSize == 0 {
		errs = append(errs, errors.New("inbox_size must be positive"))
	}
	if c.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("max_failures must be at least 1, got %d", c.MaxFailures))
	}
	if _, err := c.NavigationTarget(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ClientOptions returns the GATT client options.
func (c *Config) ClientOptions(logger *logrus.Logger) []gattc.Option {
	return []gattc.Option{
		gattc.WithTimeout(c.Timeout),
		gattc.WithPollInterval(c.PollInterval),
		gattc.WithInboxSize(c.InboxSize),
		gattc.WithLogger(logger),
	}
}

// NavigatorOptions returns the navigator loop options.
func (c *Config) NavigatorOptions() navigation.Options {
	return navigation.Options{
		ScanWindow:   c.ScanWindow,
		SetupTimeout: c.SetupTimeout,
		NavInterval:  c.NavInterval,
		RetryDelay:   c.RetryDelay,
		PollInterval: c.PollInterval,
		MaxFailures:  c.MaxFailures,
	}
}

// NavigationTarget parses the target section.
func (c *Config) NavigationTarget() (navigation.Target, error) {
	tag, err := strconv.ParseUint(c.Target.Tag, 16, 8)
	if err != nil {
		return navigation.Target{}, fmt.Errorf("invalid target tag %q: %w", c.Target.Tag, err)
	}
	return navigation.NewTarget(radio.ADType(tag), c.Target.Signature, c.Target.ServiceUUID, c.Target.CharacteristicUUID)
}
