package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helioscrm/helios/internal/model"
)

// CreateLead inserts a new lead record. A missing ID is generated and a
// missing status defaults to "new".
func (s *Store) CreateLead(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.Status == "" {
		lead.Status = "new"
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	const q = `INSERT INTO leads
		(id, name, email, phone, address, system_size_kw, source, status, created_at, updated_at)
		VALUES
		(:id, :name, :email, :phone, :address, :system_size_kw, :source, :status, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, lead); err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// GetLead retrieves a lead by ID.
func (s *Store) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var lead model.Lead
	q := s.rebind("SELECT * FROM leads WHERE id = ?")
	if err := s.db.GetContext(ctx, &lead, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return &lead, nil
}

// ListLeads returns leads newest first, with simple limit/offset paging.
func (s *Store) ListLeads(ctx context.Context, limit, offset int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	var leads []model.Lead
	q := s.rebind("SELECT * FROM leads ORDER BY created_at DESC LIMIT ? OFFSET ?")
	if err := s.db.SelectContext(ctx, &leads, q, limit, offset); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return leads, nil
}
