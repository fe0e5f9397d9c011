package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. The token encryption master key
// is deliberately absent: it is loaded from SSO_MASTER_KEY only, so it
// never lands in a config file.
type Config struct {
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"`

	// AdminToken guards the configuration API. Empty disables the admin
	// surface.
	AdminToken string `yaml:"admin_token"`

	TrustedProxies         string        `yaml:"trusted_proxies"`
	LoginAttemptsPerMinute int           `yaml:"login_attempts_per_minute"`
	AuditRetention         time.Duration `yaml:"audit_retention"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoadConfig loads configuration from an optional YAML file and
// environment variables. Environment variables override YAML values.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Addr:                   ":8080",
		LoginAttemptsPerMinute: 10,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           15 * time.Second,
		ShutdownTimeout:        15 * time.Second,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if p := os.Getenv("PORT"); p != "" { // Heroku-style
		cfg.Addr = ":" + p
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = v
	}
	if v := os.Getenv("LOGIN_ATTEMPTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginAttemptsPerMinute = n
		}
	}
	if v := os.Getenv("AUDIT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AuditRetention = d
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration fields are set.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required (set BASE_URL or yaml)")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.LoginAttemptsPerMinute < 0 {
		return errors.New("login_attempts_per_minute must not be negative")
	}
	return nil
}
