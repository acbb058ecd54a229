// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config holds the acquisition settings for each station variant.
//
// Settings are fixed at process start: defaults for the variant, overlaid
// with an optional YAML file, overlaid with command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/airstation/pkg/airframe"
	"github.com/Thermoquad/airstation/pkg/station"
)

const (
	VariantStation = "station"
	VariantSeis    = "seis"
)

// Config is the complete acquisition configuration
type Config struct {
	Variant string `yaml:"variant"`

	// Serial link
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Resilience timing
	StaleAfter     time.Duration `yaml:"stale_after"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Settle         time.Duration `yaml:"settle"`
	IdlePoll       time.Duration `yaml:"idle_poll"`
	PublishHold    time.Duration `yaml:"publish_hold"`

	// Published record
	Output   string `yaml:"output"`
	Format   string `yaml:"format"`
	FileMode string `yaml:"file_mode"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig selects the serial-bridge transport when URL is set.
// The password is never read from the file.
type WebSocketConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	SkipVerify bool   `yaml:"skip_verify"`
}

// Defaults returns the built-in settings for a variant
func Defaults(variant string) (*Config, error) {
	cfg := &Config{
		Variant:        strings.ToLower(variant),
		StaleAfter:     180 * time.Second,
		ReconnectDelay: 2 * time.Second,
		Format:         "json",
		FileMode:       "0644",
		LogLevel:       "info",
		LogFormat:      "text",
		WebSocket:      WebSocketConfig{Username: "admin"},
	}

	switch cfg.Variant {
	case VariantStation:
		cfg.Device = "/dev/station"
		cfg.Baud = 115200
		cfg.ReadTimeout = 5 * time.Second
		cfg.Settle = 2 * time.Second
		cfg.IdlePoll = 100 * time.Millisecond
		cfg.PublishHold = 100 * time.Millisecond
		cfg.Output = "/var/www/html/data.json"
	case VariantSeis:
		cfg.Device = "/dev/serial/by-id/usb-1a86_USB_Serial-if00-port0"
		cfg.Baud = 19200
		cfg.ReadTimeout = time.Second
		cfg.Settle = 500 * time.Millisecond
		cfg.IdlePoll = 50 * time.Millisecond
		cfg.PublishHold = 60 * time.Second
		cfg.Output = "/var/www/html/data_seis.json"
	default:
		return nil, fmt.Errorf("unknown variant %q (want %s or %s)", variant, VariantStation, VariantSeis)
	}

	return cfg, nil
}

// Load returns the variant defaults overlaid with the YAML file at path.
// An empty path returns the defaults. A variant named in the file wins
// over the argument.
func Load(path, variant string) (*Config, error) {
	if path == "" {
		return Defaults(variant)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var probe struct {
		Variant string `yaml:"variant"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if probe.Variant != "" {
		variant = probe.Variant
	}

	cfg, err := Defaults(variant)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Variant = strings.ToLower(cfg.Variant)

	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Layout(); err != nil {
		errs = append(errs, err)
	}
	if c.Device == "" && c.WebSocket.URL == "" {
		errs = append(errs, errors.New("device or websocket url is required"))
	}
	if c.Baud <= 0 {
		errs = append(errs, fmt.Errorf("baud must be positive, got %d", c.Baud))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read_timeout must be positive, got %s", c.ReadTimeout))
	}
	if c.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("stale_after must not be negative, got %s", c.StaleAfter))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"reconnect_delay", c.ReconnectDelay},
		{"settle", c.Settle},
		{"idle_poll", c.IdlePoll},
		{"publish_hold", c.PublishHold},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", d.name, d.value))
		}
	}
	if c.Output == "" {
		errs = append(errs, errors.New("output path is required"))
	}
	if c.Format != "json" && c.Format != "cbor" {
		errs = append(errs, fmt.Errorf("format must be json or cbor, got %q", c.Format))
	}
	if _, err := c.Mode(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Layout returns the frame layout for the variant
func (c *Config) Layout() (*airframe.Layout, error) {
	return airframe.LayoutByName(c.Variant)
}

// Mode parses FileMode as an octal permission
func (c *Config) Mode() (os.FileMode, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(c.FileMode, "0o"), 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("file_mode must be octal permissions, got %q", c.FileMode)
	}
	return os.FileMode(v), nil
}

// Options returns the pipeline timing
func (c *Config) Options() station.Options {
	return station.Options{
		StaleAfter:     c.StaleAfter,
		ReconnectDelay: c.ReconnectDelay,
		Settle:         c.Settle,
		IdlePoll:       c.IdlePoll,
		PublishHold:    c.PublishHold,
	}
}
