package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the optional mirror configuration file.
type Config struct {
	Defaults   DefaultsConfig    `toml:"defaults"`
	Transforms []TransformConfig `toml:"transform"`
	Theme      ThemeConfig       `toml:"theme"`
}

// DefaultsConfig holds persistent flag defaults. Nil fields leave the
// built-in default in place.
type DefaultsConfig struct {
	Prune            *bool    `toml:"prune"`
	IncludeEquals    *bool    `toml:"include_equals"`
	Batch            *bool    `toml:"batch"`
	AlwaysWrite      *bool    `toml:"always_write"`
	BWLimit          *string  `toml:"bwlimit"`
	ProgressInterval *string  `toml:"progress_interval"`
	Ignore           []string `toml:"ignore"`
}

// TransformConfig binds a built-in filter to the keys matching Pattern.
type TransformConfig struct {
	Pattern string `toml:"pattern"`
	Name    string `toml:"name"`
}

// ThemeConfig holds optional color overrides.
type ThemeConfig struct {
	Green  *string `toml:"green"`
	Yellow *string `toml:"yellow"`
	Red    *string `toml:"red"`
	Muted  *string `toml:"muted"`
	Bright *string `toml:"bright"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "mirror", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path. A missing file yields a zero Config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Interval returns the configured progress interval, or 0 if unset.
func (d DefaultsConfig) Interval() (time.Duration, error) {
	if d.ProgressInterval == nil {
		return 0, nil
	}
	iv, err := time.ParseDuration(*d.ProgressInterval)
	if err != nil {
		return 0, fmt.Errorf("progress_interval: %w", err)
	}
	if iv <= 0 {
		return 0, fmt.Errorf("progress_interval must be positive, got %s", iv)
	}
	return iv, nil
}

func (c Config) validate() error {
	if _, err := c.Defaults.Interval(); err != nil {
		return err
	}
	for i, tc := range c.Transforms {
		if tc.Pattern == "" || tc.Name == "" {
			return fmt.Errorf("transform %d: pattern and name are required", i+1)
		}
	}
	return nil
}
