package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helioscrm/helios/internal/model"
)

// apiKeyRow is a flat struct that maps 1:1 to the api_keys table columns.
// model.APIKey nests RateLimit and UsageStats and holds slices, so we
// flatten for sqlx scanning, the same way the service config rows do.
type apiKeyRow struct {
	ID                 string     `db:"id"`
	KeyHash            string     `db:"key_hash"`
	KeyPrefix          string     `db:"key_prefix"`
	Name               string     `db:"name"`
	Description        string     `db:"description"`
	OwnerID            string     `db:"owner_id"`
	OrganizationID     string     `db:"organization_id"`
	Status             string     `db:"status"`
	ScopesJSON         string     `db:"scopes_json"`
	Environment        string     `db:"environment"`
	LimitMinute        int        `db:"limit_minute"`
	LimitHour          int        `db:"limit_hour"`
	LimitDay           int        `db:"limit_day"`
	LimitMonth         int        `db:"limit_month"`
	MinuteCount        int        `db:"minute_count"`
	HourCount          int        `db:"hour_count"`
	DayCount           int        `db:"day_count"`
	MonthCount         int        `db:"month_count"`
	TotalCount         int64      `db:"total_count"`
	LastRequestAt      *time.Time `db:"last_request_at"`
	LastResetAt        time.Time  `db:"last_reset_at"`
	AllowedIPsJSON     string     `db:"allowed_ips_json"`
	AllowedDomainsJSON string     `db:"allowed_domains_json"`
	Notes              string     `db:"notes"`
	WebhookURL         string     `db:"webhook_url"`
	AlertThreshold     int        `db:"alert_threshold"`
	LastUsedIP         string     `db:"last_used_ip"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
	ExpiresAt          *time.Time `db:"expires_at"`
	RotatedAt          *time.Time `db:"rotated_at"`
	RevokedAt          *time.Time `db:"revoked_at"`
	RevokedBy          string     `db:"revoked_by"`
	RevokedReason      string     `db:"revoked_reason"`
}

func apiKeyRowFromModel(k *model.APIKey) (apiKeyRow, error) {
	scopes, err := json.Marshal(emptyIfNil(k.Scopes))
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("marshal scopes: %w", err)
	}
	ips, err := json.Marshal(emptyIfNil(k.AllowedIPs))
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("marshal allowed ips: %w", err)
	}
	domains, err := json.Marshal(emptyIfNil(k.AllowedDomains))
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("marshal allowed domains: %w", err)
	}

	return apiKeyRow{
		ID:                 k.ID,
		KeyHash:            k.KeyHash,
		KeyPrefix:          k.KeyPrefix,
		Name:               k.Name,
		Description:        k.Description,
		OwnerID:            k.OwnerID,
		OrganizationID:     k.OrganizationID,
		Status:             string(k.Status),
		ScopesJSON:         string(scopes),
		Environment:        string(k.Environment),
		LimitMinute:        k.RateLimit.PerMinute,
		LimitHour:          k.RateLimit.PerHour,
		LimitDay:           k.RateLimit.PerDay,
		LimitMonth:         k.RateLimit.PerMonth,
		MinuteCount:        k.Usage.MinuteCount,
		HourCount:          k.Usage.HourCount,
		DayCount:           k.Usage.DayCount,
		MonthCount:         k.Usage.MonthCount,
		TotalCount:         k.Usage.TotalCount,
		LastRequestAt:      k.Usage.LastRequestAt,
		LastResetAt:        k.Usage.LastResetAt,
		AllowedIPsJSON:     string(ips),
		AllowedDomainsJSON: string(domains),
		Notes:              k.Notes,
		WebhookURL:         k.WebhookURL,
		AlertThreshold:     k.AlertThreshold,
		LastUsedIP:         k.LastUsedIP,
		CreatedAt:          k.CreatedAt,
		UpdatedAt:          k.UpdatedAt,
		ExpiresAt:          k.ExpiresAt,
		RotatedAt:          k.RotatedAt,
		RevokedAt:          k.RevokedAt,
		RevokedBy:          k.RevokedBy,
		RevokedReason:      k.RevokedReason,
	}, nil
}

func (r apiKeyRow) toModel() (*model.APIKey, error) {
	k := &model.APIKey{
		ID:             r.ID,
		KeyHash:        r.KeyHash,
		KeyPrefix:      r.KeyPrefix,
		Name:           r.Name,
		Description:    r.Description,
		OwnerID:        r.OwnerID,
		OrganizationID: r.OrganizationID,
		Status:         model.KeyStatus(r.Status),
		Environment:    model.Environment(r.Environment),
		RateLimit: model.RateLimit{
			PerMinute: r.LimitMinute,
			PerHour:   r.LimitHour,
			PerDay:    r.LimitDay,
			PerMonth:  r.LimitMonth,
		},
		Usage: model.UsageStats{
			MinuteCount:   r.MinuteCount,
			HourCount:     r.HourCount,
			DayCount:      r.DayCount,
			MonthCount:    r.MonthCount,
			TotalCount:    r.TotalCount,
			LastRequestAt: r.LastRequestAt,
			LastResetAt:   r.LastResetAt,
		},
		Notes:          r.Notes,
		WebhookURL:     r.WebhookURL,
		AlertThreshold: r.AlertThreshold,
		LastUsedIP:     r.LastUsedIP,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		ExpiresAt:      r.ExpiresAt,
		RotatedAt:      r.RotatedAt,
		RevokedAt:      r.RevokedAt,
		RevokedBy:      r.RevokedBy,
		RevokedReason:  r.RevokedReason,
	}

	if err := json.Unmarshal([]byte(r.ScopesJSON), &k.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(r.AllowedIPsJSON), &k.AllowedIPs); err != nil {
		return nil, fmt.Errorf("unmarshal allowed ips: %w", err)
	}
	if err := json.Unmarshal([]byte(r.AllowedDomainsJSON), &k.AllowedDomains); err != nil {
		return nil, fmt.Errorf("unmarshal allowed domains: %w", err)
	}
	return k, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const apiKeyColumns = `id, key_hash, key_prefix, name, description, owner_id, organization_id,
	status, scopes_json, environment,
	limit_minute, limit_hour, limit_day, limit_month,
	minute_count, hour_count, day_count, month_count, total_count,
	last_request_at, last_reset_at,
	allowed_ips_json, allowed_domains_json,
	notes, webhook_url, alert_threshold, last_used_ip,
	created_at, updated_at, expires_at, rotated_at, revoked_at, revoked_by, revoked_reason`

// CreateAPIKey inserts a new API key record. The key_hash must already be set
// (use secret.Hash). A missing ID is generated. Returns ErrDuplicateHash when
// the hash collides with an existing record.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now
	if key.Usage.LastResetAt.IsZero() {
		key.Usage.LastResetAt = now
	}

	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_keys
		(id, key_hash, key_prefix, name, description, owner_id, organization_id,
		 status, scopes_json, environment,
		 limit_minute, limit_hour, limit_day, limit_month,
		 minute_count, hour_count, day_count, month_count, total_count,
		 last_request_at, last_reset_at,
		 allowed_ips_json, allowed_domains_json,
		 notes, webhook_url, alert_threshold, last_used_ip,
		 created_at, updated_at, expires_at, rotated_at, revoked_at, revoked_by, revoked_reason)
		VALUES
		(:id, :key_hash, :key_prefix, :name, :description, :owner_id, :organization_id,
		 :status, :scopes_json, :environment,
		 :limit_minute, :limit_hour, :limit_day, :limit_month,
		 :minute_count, :hour_count, :day_count, :month_count, :total_count,
		 :last_request_at, :last_reset_at,
		 :allowed_ips_json, :allowed_domains_json,
		 :notes, :webhook_url, :alert_threshold, :last_used_ip,
		 :created_at, :updated_at, :expires_at, :rotated_at, :revoked_at, :revoked_by, :revoked_reason)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateHash
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey retrieves an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return row.toModel()
}

// GetAPIKeyByHash looks up an API key by its SHA-256 secret hash. This is
// the per-request authorization lookup and is served by the unique hash
// index.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE key_hash = ?")
	if err := s.db.GetContext(ctx, &row, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return row.toModel()
}

// ListAPIKeysByOwner returns all keys owned by the given principal, newest
// first.
func (s *Store) ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*model.APIKey, error) {
	var rows []apiKeyRow
	q := s.rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &rows, q, ownerID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	keys := make([]*model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// UpdateAPIKey persists the mutable fields of an existing key record:
// metadata, scopes, status, limits, allow-lists, and the rotation and
// revocation columns. Counters are updated only through ConsumeQuota.
func (s *Store) UpdateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.UpdatedAt = time.Now().UTC()

	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `UPDATE api_keys SET
		key_hash = :key_hash, key_prefix = :key_prefix,
		name = :name, description = :description,
		status = :status, scopes_json = :scopes_json,
		limit_minute = :limit_minute, limit_hour = :limit_hour,
		limit_day = :limit_day, limit_month = :limit_month,
		allowed_ips_json = :allowed_ips_json, allowed_domains_json = :allowed_domains_json,
		notes = :notes, webhook_url = :webhook_url, alert_threshold = :alert_threshold,
		updated_at = :updated_at, expires_at = :expires_at,
		rotated_at = :rotated_at, revoked_at = :revoked_at,
		revoked_by = :revoked_by, revoked_reason = :revoked_reason
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateHash
		}
		return fmt.Errorf("update api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExpired transitions every active key past its deadline to expired.
// Returns the number of keys transitioned. Idempotent: a second run with no
// newly expired keys writes nothing.
func (s *Store) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	q := s.rebind(`UPDATE api_keys SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`)
	result, err := s.db.ExecContext(ctx, q, string(model.StatusExpired), now.UTC(), string(model.StatusActive), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark expired: %w", err)
	}
	return result.RowsAffected()
}
