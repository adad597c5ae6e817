package model

import "time"

// Lead is a minimal CRM lead record exposed through the partner API. The
// full sales pipeline lives elsewhere; partners only read and submit leads
// through endpoints gated by the authorization engine.
type Lead struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	Phone        string    `json:"phone" db:"phone"`
	Address      string    `json:"address" db:"address"`
	SystemSizeKW float64   `json:"system_size_kw" db:"system_size_kw"`
	Source       string    `json:"source" db:"source"`
	Status       string    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
