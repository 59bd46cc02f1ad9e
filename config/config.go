// Package config holds junyper system-level configuration. The config is
// parsed once at startup and passed explicitly into every service; nothing in
// this package reads the environment after Load returns.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Config is the junyper system-level configuration, parsed from a JSON
// secrets file with environment-variable overrides for deployment platforms
// that only expose env.
type Config struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	DatabaseURL  string `json:"database_url"`
	RedisAddress string `json:"redis_address"`
	JWTKey       string `json:"jwt_key"`

	PlaidClientID string `json:"plaid_client_id"`
	PlaidSecret   string `json:"plaid_secret"`
	// PlaidEnv selects the aggregator base URL: sandbox, development or production.
	PlaidEnv     string `json:"plaid_env"`
	PlaidBaseURL string `json:"plaid_base_url"`

	CountryCodes []string `json:"country_codes"`
	Language     string   `json:"language"`
}

// Load reads the secrets file at path and applies env overrides and defaults.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.fromEnv()
	cfg.Defaults()
	return cfg, nil
}

func (c *Config) fromEnv() {
	overrides := map[string]*string{
		"JUNYPER_DATABASE_URL":  &c.DatabaseURL,
		"JUNYPER_REDIS_ADDRESS": &c.RedisAddress,
		"JUNYPER_JWT_KEY":       &c.JWTKey,
		"PLAID_CLIENT_ID":       &c.PlaidClientID,
		"PLAID_SECRET":          &c.PlaidSecret,
		"PLAID_ENV":             &c.PlaidEnv,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

// Defaults fills zero-valued fields with sane development defaults.
func (c *Config) Defaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == "" {
		c.Port = "8084"
	}
	if c.RedisAddress == "" {
		c.RedisAddress = "localhost:6379"
	}
	if c.PlaidEnv == "" {
		c.PlaidEnv = "sandbox"
	}
	if c.PlaidBaseURL == "" {
		c.PlaidBaseURL = plaidEnvURLs[c.PlaidEnv]
	}
	if len(c.CountryCodes) == 0 {
		c.CountryCodes = []string{"US"}
	}
	if c.Language == "" {
		c.Language = "en"
	}
}

var plaidEnvURLs = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}
