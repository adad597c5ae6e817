package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/helioscrm/helios/internal/config"
	"github.com/helioscrm/helios/internal/store"
)

// loadConfig reads helios.yaml (via --config or the default search path)
// and lets HELIOS_* environment variables override individual settings.
func loadConfig() (*config.Config, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		if _, err := os.Stat("helios.yaml"); err == nil {
			path = "helios.yaml"
		}
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if secret := viper.GetString("auth.jwt_secret"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if dsn := viper.GetString("storage.dsn"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if driver := viper.GetString("storage.driver"); driver != "" {
		cfg.Storage.Driver = driver
	}
	return cfg, nil
}

// openStore connects to the configured SQL backend and runs migrations.
func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Storage.Driver, cfg.Storage.DSN)
}

// newLogger builds a slog.Logger from the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
