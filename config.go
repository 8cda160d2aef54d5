package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"komfy-library/library"
)

// Config holds all server configuration. Every field has a usable default so
// the binary starts with no config file at all.
type Config struct {
	Listen        string `yaml:"listen"`
	DatabasePath  string `yaml:"database_path"`
	BaseURL       string `yaml:"base_url"`
	JWTSecret     string `yaml:"jwt_secret"`
	SweepInterval string `yaml:"sweep_interval"`
	LogLevel      string `yaml:"log_level"`

	Email library.EmailConfig `yaml:"email"`
}

func defaultConfig() Config {
	return Config{
		Listen:        ":8080",
		DatabasePath:  "komfy.db",
		BaseURL:       "http://localhost:8080",
		SweepInterval: "24h",
		LogLevel:      "info",
	}
}

// LoadConfig reads the YAML file at path, falling back to defaults when the
// file is absent. Environment variables override file values for the
// secrets that should not live on disk.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if v := os.Getenv("KOMFY_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("KOMFY_SMTP_PASSWORD"); v != "" {
		cfg.Email.Password = v
	}
	if v := os.Getenv("KOMFY_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	return cfg, nil
}

// SweepEvery parses the sweep interval, falling back to the daily default.
func (c Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return library.DefaultSweepInterval
	}
	return d
}
