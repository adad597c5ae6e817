package model

import "time"

// KeyStatus is the coarse lifecycle state of an API key. Revoked and expired
// are terminal; suspended keys can be re-activated by their owner.
type KeyStatus string

const (
	StatusActive    KeyStatus = "active"
	StatusSuspended KeyStatus = "suspended"
	StatusRevoked   KeyStatus = "revoked"
	StatusExpired   KeyStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s KeyStatus) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// Environment selects the secret prefix and the default rate-limit plan.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Scopes recognised by the partner API. ScopeAdmin satisfies any requirement.
const (
	ScopeReadLeads     = "read_leads"
	ScopeWriteLeads    = "write_leads"
	ScopeReadProjects  = "read_projects"
	ScopeWriteProjects = "write_projects"
	ScopeReadBilling   = "read_billing"
	ScopeAdmin         = "admin"
)

// RateLimit holds the four request ceilings enforced per key. A ceiling of
// zero or less means unlimited for that window.
type RateLimit struct {
	PerMinute int `json:"requests_per_minute"`
	PerHour   int `json:"requests_per_hour"`
	PerDay    int `json:"requests_per_day"`
	PerMonth  int `json:"requests_per_month"`
}

// UsageStats holds the running counters matching the four rate-limit windows,
// plus a cumulative total that survives window resets and key rotation.
type UsageStats struct {
	MinuteCount   int        `json:"minute_count" db:"minute_count"`
	HourCount     int        `json:"hour_count" db:"hour_count"`
	DayCount      int        `json:"day_count" db:"day_count"`
	MonthCount    int        `json:"month_count" db:"month_count"`
	TotalCount    int64      `json:"total_count" db:"total_count"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty" db:"last_request_at"`
	LastResetAt   time.Time  `json:"last_reset_at" db:"last_reset_at"`
}

// APIKey represents a partner-facing credential. The raw secret is never
// stored; only a SHA-256 hash and a short prefix for identification are
// persisted.
type APIKey struct {
	ID             string      `json:"id" db:"id"`
	KeyHash        string      `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyPrefix      string      `json:"key_prefix" db:"key_prefix"`
	Name           string      `json:"name" db:"name"`
	Description    string      `json:"description" db:"description"`
	OwnerID        string      `json:"owner_id" db:"owner_id"`
	OrganizationID string      `json:"organization_id,omitempty" db:"organization_id"`
	Status         KeyStatus   `json:"status" db:"status"`
	Scopes         []string    `json:"scopes" db:"-"`
	Environment    Environment `json:"environment" db:"environment"`

	RateLimit RateLimit  `json:"rate_limit" db:"-"`
	Usage     UsageStats `json:"usage" db:"-"`

	AllowedIPs     []string `json:"allowed_ips,omitempty" db:"-"`
	AllowedDomains []string `json:"allowed_domains,omitempty" db:"-"`

	Notes          string `json:"notes,omitempty" db:"notes"`
	WebhookURL     string `json:"webhook_url,omitempty" db:"webhook_url"`
	AlertThreshold int    `json:"alert_threshold,omitempty" db:"alert_threshold"`

	LastUsedIP string `json:"last_used_ip,omitempty" db:"last_used_ip"`

	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RotatedAt     *time.Time `json:"rotated_at,omitempty" db:"rotated_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokedBy     string     `json:"revoked_by,omitempty" db:"revoked_by"`
	RevokedReason string     `json:"revoked_reason,omitempty" db:"revoked_reason"`
}

// HasScope reports whether the key grants the named scope. The admin scope
// grants everything.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// IsExpired reports whether the key has passed its expiry deadline at now.
// Keys without a deadline never expire.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// AllowsIP reports whether the caller IP passes the key's allow-list. An
// empty allow-list admits every address.
func (k *APIKey) AllowsIP(ip string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range k.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

// AuthorizedKey is the caller-visible result of a successful authorization.
// It deliberately excludes the hash and all operational metadata.
type AuthorizedKey struct {
	APIKeyID    string      `json:"api_key_id"`
	OwnerID     string      `json:"owner_id"`
	Scopes      []string    `json:"scopes"`
	Environment Environment `json:"environment"`
	Usage       UsageStats  `json:"usage"`
}
