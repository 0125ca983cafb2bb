package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Zereker/genvex"
)

// config is the resolved program configuration.
type config struct {
	Device      string
	Address     string
	Baud        int
	ReadTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

func defaultConfig() config {
	return config{
		Device:      "/dev/ttyUSB0",
		Baud:        genvex.DefaultBaud,
		ReadTimeout: genvex.DefaultReadTimeout,
		MaxRetries:  genvex.DefaultMaxRetries,
		RetryDelay:  genvex.DefaultRetryDelay,
	}
}

type fileConfig struct {
	Device      string `toml:"device"`
	Address     string `toml:"address"`
	Baud        int    `toml:"baud"`
	ReadTimeout string `toml:"read_timeout"`
	MaxRetries  int    `toml:"max_retries"`
	RetryDelay  string `toml:"retry_delay"`
}

// loadConfig overlays the keys present in the TOML file at path onto the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}

	if meta.IsDefined("baud") {
		if raw.Baud <= 0 {
			return config{}, fmt.Errorf("baud must be positive, got %d", raw.Baud)
		}
		cfg.Baud = raw.Baud
	}

	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}

	if meta.IsDefined("max_retries") {
		if raw.MaxRetries <= 0 {
			return config{}, fmt.Errorf("max_retries must be positive, got %d", raw.MaxRetries)
		}
		cfg.MaxRetries = raw.MaxRetries
	}

	if meta.IsDefined("retry_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryDelay))
		if err != nil {
			return config{}, fmt.Errorf("parse retry_delay: %w", err)
		}
		cfg.RetryDelay = d
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	return cfg, nil
}

// dialer picks the TCP bridge when an address is configured, the serial port otherwise.
func (c config) dialer() genvex.Dialer {
	if c.Address != "" {
		return genvex.NetDialer(genvex.NetConfig{
			Address:     c.Address,
			DialTimeout: 5 * time.Second,
			ReadTimeout: c.ReadTimeout,
		})
	}
	return genvex.SerialDialer(genvex.SerialConfig{
		Device:      c.Device,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
	})
}

func (c config) options() []genvex.Option {
	return []genvex.Option{
		genvex.MaxRetriesOption(c.MaxRetries),
		genvex.RetryDelayOption(c.RetryDelay),
	}
}
