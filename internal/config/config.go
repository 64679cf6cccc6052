// Package config provides YAML-based configuration loading for Greenlight.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Greenlight configuration, loaded from
// greenlight.yaml.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	DB      DBConfig      `yaml:"db"`
	Auth    AuthConfig    `yaml:"auth"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	GitHub  GitHubConfig  `yaml:"github"`
	Billing BillingConfig `yaml:"billing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DBConfig holds connection settings for the MySQL server.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// AuthConfig holds bearer-token settings. Secret signs issued JWTs.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// AlertsConfig holds chat-platform notifier settings. A platform with an
// empty token is simply not started.
type AlertsConfig struct {
	SlackToken     string `yaml:"slack_token"`
	SlackChannel   string `yaml:"slack_channel"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
}

// GitHubConfig holds settings for the CI hook: filing issues on failed
// automated items and resolving workflow run links.
type GitHubConfig struct {
	Token string `yaml:"token"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// BillingConfig controls the usage rollup schedule (5-field cron spec).
type BillingConfig struct {
	RollupCron string `yaml:"rollup_cron"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "greenlight"
	}
	if c.DB.Database == "" {
		c.DB.Database = "greenlight"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Billing.RollupCron == "" {
		c.Billing.RollupCron = "0 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Auth.Secret == "" {
		errs = append(errs, "auth.secret is required")
	}
	if c.Alerts.SlackToken != "" && c.Alerts.SlackChannel == "" {
		errs = append(errs, "alerts.slack_channel is required when slack_token is set")
	}
	if c.Alerts.DiscordToken != "" && c.Alerts.DiscordChannel == "" {
		errs = append(errs, "alerts.discord_channel is required when discord_token is set")
	}
	if c.GitHub.Token != "" && (c.GitHub.Owner == "" || c.GitHub.Repo == "") {
		errs = append(errs, "github.owner and github.repo are required when github.token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
