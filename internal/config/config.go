// Package config defines the helios.yaml configuration file and the
// environment-default rate-limit plans applied to newly created API keys.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/helioscrm/helios/internal/model"
)

// Config represents the top-level helios configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Limits  LimitsConfig  `yaml:"limits"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	IPRatePerMinute int        `yaml:"ip_rate_per_minute"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// AuthConfig controls admin session and authorization settings.
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	JWTExpiry        string `yaml:"jwt_expiry"`
	AuthorizeTimeout string `yaml:"authorize_timeout"`
}

// StorageConfig selects the SQL backend. Driver is one of sqlite, postgres,
// mysql. For sqlite, DSN is a directory path (empty means in-memory).
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LimitsConfig maps environments to their default rate-limit plan. Caller
// overrides at key creation win over these.
type LimitsConfig struct {
	Development PlanConfig `yaml:"development"`
	Production  PlanConfig `yaml:"production"`
}

// PlanConfig is one environment's default request ceilings.
type PlanConfig struct {
	PerMinute int `yaml:"requests_per_minute"`
	PerHour   int `yaml:"requests_per_hour"`
	PerDay    int `yaml:"requests_per_day"`
	PerMonth  int `yaml:"requests_per_month"`
}

// RateLimit converts the plan to the model type.
func (p PlanConfig) RateLimit() model.RateLimit {
	return model.RateLimit{
		PerMinute: p.PerMinute,
		PerHour:   p.PerHour,
		PerDay:    p.PerDay,
		PerMonth:  p.PerMonth,
	}
}

// PlanFor returns the default plan for an environment.
func (l LimitsConfig) PlanFor(env model.Environment) model.RateLimit {
	if env == model.EnvProduction {
		return l.Production.RateLimit()
	}
	return l.Development.RateLimit()
}

// CleanupConfig controls the background garbage-collection job.
type CleanupConfig struct {
	Interval      string `yaml:"interval"`
	LogRetention  string `yaml:"log_retention"`
	DeleteBatch   int    `yaml:"delete_batch"`
	RecorderQueue int    `yaml:"recorder_queue"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML configuration file. Environment variables
// referenced as ${VAR_NAME} in the file are expanded before parsing.
// Defaults fill any section the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			IPRatePerMinute: 600,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
		},
		Auth: AuthConfig{
			JWTExpiry:        "24h",
			AuthorizeTimeout: "3s",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Limits: LimitsConfig{
			Development: PlanConfig{PerMinute: 60, PerHour: 1000, PerDay: 10000, PerMonth: 100000},
			Production:  PlanConfig{PerMinute: 120, PerHour: 5000, PerDay: 50000, PerMonth: 1000000},
		},
		Cleanup: CleanupConfig{
			Interval:      "24h",
			LogRetention:  "2160h", // 90 days
			DeleteBatch:   500,
			RecorderQueue: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ParseDuration parses a duration string, falling back to def when the value
// is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
