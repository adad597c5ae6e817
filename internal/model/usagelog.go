package model

import "time"

// UsageLogEntry records a single authorized partner call. Entries are written
// best-effort off the request path and purged after the retention window.
type UsageLogEntry struct {
	ID             string    `json:"id" db:"id"`
	APIKeyID       string    `json:"api_key_id" db:"api_key_id"`
	Endpoint       string    `json:"endpoint" db:"endpoint"`
	Method         string    `json:"method" db:"method"`
	StatusCode     int       `json:"status_code" db:"status_code"`
	ResponseTimeMs int64     `json:"response_time_ms" db:"response_time_ms"`
	RequestSize    int64     `json:"request_size" db:"request_size"`
	ResponseSize   int64     `json:"response_size" db:"response_size"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`

	// Optional correlation to CRM records.
	LeadID    string `json:"lead_id,omitempty" db:"lead_id"`
	ProjectID string `json:"project_id,omitempty" db:"project_id"`
	UserID    string `json:"user_id,omitempty" db:"user_id"`
}
