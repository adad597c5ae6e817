package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/ratelimit"
)

// ConsumeQuota applies the window reset, ceiling evaluation, and counter
// increment for one authorized call as a single read-modify-write against
// the key's row. On postgres and mysql the row is locked with FOR UPDATE;
// on sqlite the single write connection serializes the transaction. Either
// way, concurrent calls on the same key cannot lose updates.
//
// The returned window is empty when the call was allowed. Window resets are
// persisted even when the call is denied, so LastResetAt tracks the current
// bucket.
func (s *Store) ConsumeQuota(ctx context.Context, id string, limits model.RateLimit, ip string, now time.Time) (model.UsageStats, ratelimit.Window, error) {
	var row struct {
		model.UsageStats
		LastUsedIP string `db:"last_used_ip"`
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.UsageStats{}, "", fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback()

	q := s.rebind(`SELECT minute_count, hour_count, day_count, month_count, total_count,
		last_request_at, last_reset_at, last_used_ip
		FROM api_keys WHERE id = ?` + s.forUpdate())
	if err := tx.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UsageStats{}, "", ErrNotFound
		}
		return model.UsageStats{}, "", fmt.Errorf("load usage: %w", err)
	}

	usage := row.UsageStats
	ratelimit.ResetStale(&usage, now)
	allowed, window := ratelimit.Evaluate(usage, limits)
	lastIP := row.LastUsedIP
	if allowed {
		ratelimit.Record(&usage, now)
		if ip != "" {
			lastIP = ip
		}
	}

	upd := s.rebind(`UPDATE api_keys SET
		minute_count = ?, hour_count = ?, day_count = ?, month_count = ?, total_count = ?,
		last_request_at = ?, last_reset_at = ?, last_used_ip = ?
		WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, upd,
		usage.MinuteCount, usage.HourCount, usage.DayCount, usage.MonthCount, usage.TotalCount,
		usage.LastRequestAt, usage.LastResetAt, lastIP,
		id); err != nil {
		return usage, "", fmt.Errorf("commit usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return usage, "", fmt.Errorf("commit quota tx: %w", err)
	}
	return usage, window, nil
}

// InsertUsageLog appends one usage log entry. A missing ID is generated.
func (s *Store) InsertUsageLog(ctx context.Context, entry *model.UsageLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	const q = `INSERT INTO usage_logs
		(id, api_key_id, endpoint, method, status_code, response_time_ms,
		 request_size, response_size, ip_address, user_agent, timestamp,
		 lead_id, project_id, user_id)
		VALUES
		(:id, :api_key_id, :endpoint, :method, :status_code, :response_time_ms,
		 :request_size, :response_size, :ip_address, :user_agent, :timestamp,
		 :lead_id, :project_id, :user_id)`

	if _, err := s.db.NamedExecContext(ctx, q, entry); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// ListUsageLogs returns log entries for a key newer than since, newest
// first, capped at limit.
func (s *Store) ListUsageLogs(ctx context.Context, apiKeyID string, since time.Time, limit int) ([]model.UsageLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []model.UsageLogEntry
	q := s.rebind(`SELECT id, api_key_id, endpoint, method, status_code, response_time_ms,
		request_size, response_size, ip_address, user_agent, timestamp,
		lead_id, project_id, user_id
		FROM usage_logs WHERE api_key_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &entries, q, apiKeyID, since.UTC(), limit); err != nil {
		return nil, fmt.Errorf("list usage logs: %w", err)
	}
	return entries, nil
}

// DeleteUsageLogsBefore removes at most batch log entries older than cutoff
// and reports how many were deleted. Callers loop until zero to drain in
// bounded batches.
func (s *Store) DeleteUsageLogsBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	// Subquery keeps the statement portable; mysql needs the extra alias.
	q := s.rebind(`DELETE FROM usage_logs WHERE id IN (
		SELECT id FROM (
			SELECT id FROM usage_logs WHERE timestamp < ? LIMIT ?
		) stale
	)`)
	result, err := s.db.ExecContext(ctx, q, cutoff.UTC(), batch)
	if err != nil {
		return 0, fmt.Errorf("delete usage logs: %w", err)
	}
	return result.RowsAffected()
}
