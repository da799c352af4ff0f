// Package config loads editor backend settings from a TOML file.
//
// A missing file is not an error: the defaults are used, so embedding
// applications only write a config file when they need to change
// something.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the backend settings.
type Config struct {
	Worker   Worker   `toml:"worker"`
	Connect  Connect  `toml:"connect"`
	Shutdown Shutdown `toml:"shutdown"`
}

// Worker describes how to launch the worker process.
type Worker struct {
	// Script is the path to the worker program.
	Script string `toml:"script"`

	// Interpreter runs the script when it is not self-executing,
	// for example "python3". Empty means the script runs directly.
	Interpreter string `toml:"interpreter"`

	// Args are extra arguments appended after the port.
	Args []string `toml:"args"`
}

// Connect tunes the connection retry policy. Durations are stored in
// milliseconds to keep the TOML plain.
type Connect struct {
	MaxRetry     int `toml:"max_retry"`
	RetryDelayMS int `toml:"retry_delay_ms"`
	StartDelayMS int `toml:"start_delay_ms"`
}

// Shutdown tunes teardown behavior.
type Shutdown struct {
	TimeoutMS int `toml:"timeout_ms"`
}

// Default returns the built in settings.
func Default() Config {
	return Config{
		Connect: Connect{
			MaxRetry:     100,
			RetryDelayMS: 100,
			StartDelayMS: 100,
		},
		Shutdown: Shutdown{
			TimeoutMS: 5000,
		},
	}
}

// Load reads the config file at path, layered over the defaults. A
// missing file returns the defaults with no error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Default(), fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Connect.MaxRetry < 1 {
		return fmt.Errorf("connect.max_retry must be at least 1, got %d", c.Connect.MaxRetry)
	}
	if c.Connect.RetryDelayMS < 0 {
		return fmt.Errorf("connect.retry_delay_ms must not be negative, got %d", c.Connect.RetryDelayMS)
	}
	if c.Connect.StartDelayMS < 0 {
		return fmt.Errorf("connect.start_delay_ms must not be negative, got %d", c.Connect.StartDelayMS)
	}
	if c.Shutdown.TimeoutMS < 1 {
		return fmt.Errorf("shutdown.timeout_ms must be at least 1, got %d", c.Shutdown.TimeoutMS)
	}
	return nil
}

// RetryDelay returns the retry delay as a duration.
func (c Connect) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// StartDelay returns the start delay as a duration.
func (c Connect) StartDelay() time.Duration {
	return time.Duration(c.StartDelayMS) * time.Millisecond
}

// Timeout returns the shutdown timeout as a duration.
func (c Shutdown) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
