package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the optional config file
// ($XDG_CONFIG_HOME/llama-models/config.yaml). Flags and environment
// variables override it.
type Config struct {
	CheckpointDir string `yaml:"checkpoint_dir"`

	// Downloads
	Source      string `yaml:"source"`
	MaxParallel *int   `yaml:"max_parallel"`
	HFToken     string `yaml:"hf_token"`
	HFEndpoint  string `yaml:"hf_endpoint"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "llama-models", "config.yaml")
}

// LoadConfig reads path. A missing file is an empty config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
