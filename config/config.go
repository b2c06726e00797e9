// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package config loads the assistant service configuration from an
// optional YAML file with environment variable overrides. Secrets come
// from the environment only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultListenAddr   = ":8080"
	DefaultCallTimeout  = 8 * time.Second
	DefaultResetTimeout = 60 * time.Second
)

// ProviderConfig holds one upstream provider's settings. API keys are
// environment-only and never read from the file.
type ProviderConfig struct {
	APIKey  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`

	// CallTimeout is the per-provider-call budget.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// BreakerResetTimeout is the circuit breaker cooldown window.
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`

	// RedisURL enables the shared usage store when set.
	RedisURL string `yaml:"redis_url"`

	// DatabaseURL enables the usage event recorder when set.
	DatabaseURL string `yaml:"database_url"`

	// BookingBackendURL is the reservation backend the assistant forwards
	// confirmed actions to.
	BookingBackendURL string `yaml:"booking_backend_url"`

	// CORSOrigins lists allowed browser origins for the HTTP surface.
	CORSOrigins []string `yaml:"cors_origins"`
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:          DefaultListenAddr,
		CallTimeout:         DefaultCallTimeout,
		BreakerResetTimeout: DefaultResetTimeout,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.OpenAI.APIKey == "" && cfg.Anthropic.APIKey == "" {
		return nil, fmt.Errorf("at least one provider API key is required (OPENAI_API_KEY or ANTHROPIC_API_KEY)")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")

	cfg.ListenAddr = envOrDefault("LISTEN_ADDR", cfg.ListenAddr)
	cfg.OpenAI.BaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.Model = envOrDefault("OPENAI_MODEL", cfg.OpenAI.Model)
	cfg.Anthropic.BaseURL = envOrDefault("ANTHROPIC_BASE_URL", cfg.Anthropic.BaseURL)
	cfg.Anthropic.Model = envOrDefault("ANTHROPIC_MODEL", cfg.Anthropic.Model)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.BookingBackendURL = envOrDefault("BOOKING_BACKEND_URL", cfg.BookingBackendURL)

	if v := os.Getenv("AI_CALL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.CallTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("BREAKER_RESET_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.BreakerResetTimeout = time.Duration(ms) * time.Millisecond
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
