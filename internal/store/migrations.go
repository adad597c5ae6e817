package store

import (
	"fmt"
	"strings"
)

// dialectTypes maps abstract column types to each backend's spelling. DDL
// below is written with {ts} / {bool} markers and expanded per driver.
var dialectTypes = map[string]map[string]string{
	"sqlite":   {"{ts}": "TIMESTAMP", "{bool}": "INTEGER"},
	"postgres": {"{ts}": "TIMESTAMPTZ", "{bool}": "BOOLEAN"},
	"mysql":    {"{ts}": "DATETIME(6)", "{bool}": "TINYINT(1)"},
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id VARCHAR(64) PRIMARY KEY,
			key_hash VARCHAR(64) NOT NULL,
			key_prefix VARCHAR(32) NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			owner_id VARCHAR(64) NOT NULL,
			organization_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			scopes_json TEXT NOT NULL,
			environment VARCHAR(16) NOT NULL,
			limit_minute INTEGER NOT NULL DEFAULT 0,
			limit_hour INTEGER NOT NULL DEFAULT 0,
			limit_day INTEGER NOT NULL DEFAULT 0,
			limit_month INTEGER NOT NULL DEFAULT 0,
			minute_count INTEGER NOT NULL DEFAULT 0,
			hour_count INTEGER NOT NULL DEFAULT 0,
			day_count INTEGER NOT NULL DEFAULT 0,
			month_count INTEGER NOT NULL DEFAULT 0,
			total_count BIGINT NOT NULL DEFAULT 0,
			last_request_at {ts},
			last_reset_at {ts} NOT NULL,
			allowed_ips_json TEXT NOT NULL,
			allowed_domains_json TEXT NOT NULL,
			notes TEXT NOT NULL,
			webhook_url TEXT NOT NULL,
			alert_threshold INTEGER NOT NULL DEFAULT 0,
			last_used_ip VARCHAR(64) NOT NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL,
			expires_at {ts},
			rotated_at {ts},
			revoked_at {ts},
			revoked_by VARCHAR(64) NOT NULL,
			revoked_reason TEXT NOT NULL
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id)`,

		`CREATE TABLE IF NOT EXISTS usage_logs (
			id VARCHAR(64) PRIMARY KEY,
			api_key_id VARCHAR(64) NOT NULL,
			endpoint VARCHAR(255) NOT NULL,
			method VARCHAR(16) NOT NULL,
			status_code INTEGER NOT NULL,
			response_time_ms BIGINT NOT NULL,
			request_size BIGINT NOT NULL,
			response_size BIGINT NOT NULL,
			ip_address VARCHAR(64) NOT NULL,
			user_agent VARCHAR(512) NOT NULL,
			timestamp {ts} NOT NULL,
			lead_id VARCHAR(64) NOT NULL,
			project_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_usage_logs_key_ts ON usage_logs(api_key_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_ts ON usage_logs(timestamp)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id VARCHAR(64) PRIMARY KEY,
			email VARCHAR(255) NOT NULL,
			password_hash VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			is_active {bool} NOT NULL,
			last_login_at {ts},
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_admins_email ON admins(email)`,

		`CREATE TABLE IF NOT EXISTS leads (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL,
			phone VARCHAR(64) NOT NULL,
			address TEXT NOT NULL,
			system_size_kw DOUBLE PRECISION NOT NULL DEFAULT 0,
			source VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,
	}

	types, ok := dialectTypes[s.driver]
	if !ok {
		return fmt.Errorf("no migrations for driver %q", s.driver)
	}

	for i, m := range migrations {
		for marker, t := range types {
			m = strings.ReplaceAll(m, marker, t)
		}
		// MySQL has no IF NOT EXISTS for indexes; strip it and tolerate the
		// duplicate error on re-runs.
		if s.driver == "mysql" && strings.HasPrefix(m, "CREATE") && strings.Contains(m, "INDEX IF NOT EXISTS") {
			m = strings.Replace(m, "INDEX IF NOT EXISTS", "INDEX", 1)
		}
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate key name") {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
