package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration file. Every field has a matching flag that
// takes precedence.
type Config struct {
	Relay    string `yaml:"relay"`     // Relay server base URL for provisioning.
	Channel  string `yaml:"channel"`   // Channel URL to connect.
	Target   string `yaml:"target"`    // Local URL to forward webhooks to.
	Workers  int    `yaml:"workers"`   // Concurrent deliveries (default 1).
	LogLevel string `yaml:"log_level"` // logrus level name.
}

// LoadConfig reads a YAML config file. Environment variables referenced as
// ${VAR} or $VAR are expanded before parsing, so secrets can live in the
// environment (e.g. loaded from a .env file) rather than in the file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative")
	}

	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("config: log_level: %w", err)
		}
	}

	for name, value := range map[string]string{
		"relay":   c.Relay,
		"channel": c.Channel,
		"target":  c.Target,
	} {
		if value == "" {
			continue
		}
		if _, err := url.ParseRequestURI(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}

	return nil
}
