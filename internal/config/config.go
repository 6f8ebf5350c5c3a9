package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Catalog struct {
		TTL string `yaml:"ttl"`
	} `yaml:"catalog"`
	Session struct {
		Timeout             string `yaml:"timeout"`
		DedupWindow         string `yaml:"dedup_window"`
		IdempotencyTTL      string `yaml:"idempotency_ttl"`
		SignalMinInterval   string `yaml:"signal_min_interval"`
		MaxRecoveryAttempts int    `yaml:"max_recovery_attempts"`
		MaxMinorIssues      int    `yaml:"max_minor_issues"`
	} `yaml:"session"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// PositiveInt returns fallback when raw is not a positive count.
func PositiveInt(raw, fallback int) int {
	if raw > 0 {
		return raw
	}
	return fallback
}
