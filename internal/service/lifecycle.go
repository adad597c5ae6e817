package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/secret"
	"github.com/helioscrm/helios/internal/store"
)

// PlanFunc returns the default rate-limit plan for an environment. It is
// usually config.LimitsConfig.PlanFor.
type PlanFunc func(env model.Environment) model.RateLimit

// KeyService manages the API key lifecycle: creation, revocation, rotation,
// and metadata updates. Every mutating operation except Create verifies
// that the calling principal owns the key.
type KeyService struct {
	keys   KeyStore
	usage  UsageStore
	plans  PlanFunc
	logger *slog.Logger
	now    func() time.Time
}

// NewKeyService wires the lifecycle manager.
func NewKeyService(keys KeyStore, usage UsageStore, plans PlanFunc, logger *slog.Logger) *KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{
		keys:   keys,
		usage:  usage,
		plans:  plans,
		logger: logger,
		now:    time.Now,
	}
}

// CreateKeyParams are the caller-supplied inputs for a new key. Zero-valued
// rate-limit fields fall back to the environment's default plan.
type CreateKeyParams struct {
	OwnerID        string
	OrganizationID string
	Name           string
	Description    string
	Scopes         []string
	Environment    model.Environment
	ExpiresInDays  int
	RateLimit      model.RateLimit
	AllowedIPs     []string
	AllowedDomains []string
}

// CreatedKey is the one-time creation result. Secret is the only copy of
// the plaintext that will ever exist.
type CreatedKey struct {
	APIKeyID  string
	Secret    string
	KeyPrefix string
}

// CreateKey generates a fresh secret, applies environment defaults, and
// persists the new key in active status.
func (s *KeyService) CreateKey(ctx context.Context, p CreateKeyParams) (*CreatedKey, error) {
	if p.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	if p.Name == "" {
		return nil, errors.New("name is required")
	}
	if len(p.Scopes) == 0 {
		return nil, errors.New("at least one scope is required")
	}
	env := p.Environment
	if env == "" {
		env = model.EnvDevelopment
	}
	if env != model.EnvDevelopment && env != model.EnvProduction {
		return nil, fmt.Errorf("unknown environment %q", env)
	}

	plaintext, prefix, err := secret.Generate(env)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	limits := s.plans(env)
	if p.RateLimit.PerMinute > 0 {
		limits.PerMinute = p.RateLimit.PerMinute
	}
	if p.RateLimit.PerHour > 0 {
		limits.PerHour = p.RateLimit.PerHour
	}
	if p.RateLimit.PerDay > 0 {
		limits.PerDay = p.RateLimit.PerDay
	}
	if p.RateLimit.PerMonth > 0 {
		limits.PerMonth = p.RateLimit.PerMonth
	}

	key := &model.APIKey{
		KeyHash:        secret.Hash(plaintext),
		KeyPrefix:      prefix,
		Name:           p.Name,
		Description:    p.Description,
		OwnerID:        p.OwnerID,
		OrganizationID: p.OrganizationID,
		Status:         model.StatusActive,
		Scopes:         p.Scopes,
		Environment:    env,
		RateLimit:      limits,
		AllowedIPs:     p.AllowedIPs,
		AllowedDomains: p.AllowedDomains,
	}
	if p.ExpiresInDays > 0 {
		exp := s.now().UTC().AddDate(0, 0, p.ExpiresInDays)
		key.ExpiresAt = &exp
	}

	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	s.logger.Info("api key created", "api_key_id", key.ID, "owner_id", key.OwnerID, "environment", env)
	return &CreatedKey{APIKeyID: key.ID, Secret: plaintext, KeyPrefix: prefix}, nil
}

// RevokeKey transitions a key to the revoked terminal state. Idempotent:
// revoking an already-revoked key returns the current status without error.
func (s *KeyService) RevokeKey(ctx context.Context, id, actor, reason string) (model.KeyStatus, error) {
	key, err := s.load(ctx, id, actor)
	if err != nil {
		return "", err
	}

	if key.Status == model.StatusRevoked {
		return key.Status, nil
	}

	now := s.now().UTC()
	key.Status = model.StatusRevoked
	key.RevokedAt = &now
	key.RevokedBy = actor
	key.RevokedReason = reason
	if err := s.keys.UpdateAPIKey(ctx, key); err != nil {
		s.logger.Error("revoke failed", "api_key_id", id, "error", err)
		return "", errInternal()
	}

	s.logger.Info("api key revoked", "api_key_id", id, "actor", actor)
	return key.Status, nil
}

// RotateKey replaces the key's secret, immediately invalidating the old
// one. The id, scopes, limits, and cumulative usage history are untouched.
func (s *KeyService) RotateKey(ctx context.Context, id, actor string) (*CreatedKey, error) {
	key, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if key.Status.Terminal() {
		return nil, errInactive(key.Status)
	}

	plaintext, prefix, err := secret.Generate(key.Environment)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	now := s.now().UTC()
	key.KeyHash = secret.Hash(plaintext)
	key.KeyPrefix = prefix
	key.RotatedAt = &now
	if err := s.keys.UpdateAPIKey(ctx, key); err != nil {
		s.logger.Error("rotate failed", "api_key_id", id, "error", err)
		return nil, errInternal()
	}

	s.logger.Info("api key rotated", "api_key_id", id, "actor", actor)
	return &CreatedKey{APIKeyID: id, Secret: plaintext, KeyPrefix: prefix}, nil
}

// mutableKeyFields is the explicit allow-list for UpdateKey. Anything else
// in the request is silently dropped so older clients keep working as the
// schema grows.
var mutableKeyFields = map[string]bool{
	"name":            true,
	"description":     true,
	"scopes":          true,
	"status":          true,
	"rate_limit":      true,
	"allowed_ips":     true,
	"allowed_domains": true,
	"notes":           true,
	"webhook_url":     true,
	"alert_threshold": true,
}

// UpdateKey applies the allow-listed fields to a key. The status field only
// moves between active and suspended; terminal keys reject status changes.
func (s *KeyService) UpdateKey(ctx context.Context, id, actor string, fields map[string]interface{}) error {
	key, err := s.load(ctx, id, actor)
	if err != nil {
		return err
	}

	for name, value := range fields {
		if !mutableKeyFields[name] {
			continue
		}
		if err := applyKeyField(key, name, value); err != nil {
			return err
		}
	}

	if err := s.keys.UpdateAPIKey(ctx, key); err != nil {
		s.logger.Error("update failed", "api_key_id", id, "error", err)
		return errInternal()
	}
	return nil
}

func applyKeyField(key *model.APIKey, name string, value interface{}) error {
	switch name {
	case "name":
		if v, ok := value.(string); ok && v != "" {
			key.Name = v
		}
	case "description":
		if v, ok := value.(string); ok {
			key.Description = v
		}
	case "scopes":
		scopes, err := toStringSlice(value)
		if err != nil {
			return fmt.Errorf("scopes: %w", err)
		}
		if len(scopes) > 0 {
			key.Scopes = scopes
		}
	case "status":
		v, ok := value.(string)
		if !ok {
			return errors.New("status must be a string")
		}
		next := model.KeyStatus(v)
		if next != model.StatusActive && next != model.StatusSuspended {
			return fmt.Errorf("status %q cannot be set directly", v)
		}
		if key.Status.Terminal() {
			return errInactive(key.Status)
		}
		key.Status = next
	case "rate_limit":
		m, ok := value.(map[string]interface{})
		if !ok {
			return errors.New("rate_limit must be an object")
		}
		if v, ok := toInt(m["requests_per_minute"]); ok {
			key.RateLimit.PerMinute = v
		}
		if v, ok := toInt(m["requests_per_hour"]); ok {
			key.RateLimit.PerHour = v
		}
		if v, ok := toInt(m["requests_per_day"]); ok {
			key.RateLimit.PerDay = v
		}
		if v, ok := toInt(m["requests_per_month"]); ok {
			key.RateLimit.PerMonth = v
		}
	case "allowed_ips":
		ips, err := toStringSlice(value)
		if err != nil {
			return fmt.Errorf("allowed_ips: %w", err)
		}
		key.AllowedIPs = ips
	case "allowed_domains":
		domains, err := toStringSlice(value)
		if err != nil {
			return fmt.Errorf("allowed_domains: %w", err)
		}
		key.AllowedDomains = domains
	case "notes":
		if v, ok := value.(string); ok {
			key.Notes = v
		}
	case "webhook_url":
		if v, ok := value.(string); ok {
			key.WebhookURL = v
		}
	case "alert_threshold":
		if v, ok := toInt(value); ok {
			key.AlertThreshold = v
		}
	}
	return nil
}

func toStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string array, got %T", value)
	}
}

func toInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64: // encoding/json numbers
		return int(v), true
	default:
		return 0, false
	}
}

// GetKey returns a key after verifying ownership.
func (s *KeyService) GetKey(ctx context.Context, id, actor string) (*model.APIKey, error) {
	return s.load(ctx, id, actor)
}

// ListKeys returns all keys owned by a principal.
func (s *KeyService) ListKeys(ctx context.Context, ownerID string) ([]*model.APIKey, error) {
	keys, err := s.keys.ListAPIKeysByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Error("list keys failed", "owner_id", ownerID, "error", err)
		return nil, errInternal()
	}
	return keys, nil
}

// KeyUsage bundles the live counters with recent log entries.
type KeyUsage struct {
	Stats model.UsageStats      `json:"usage"`
	Logs  []model.UsageLogEntry `json:"logs"`
}

// GetUsage returns a key's counters plus its usage log entries from the
// last days (default 7), capped at limit entries.
func (s *KeyService) GetUsage(ctx context.Context, id, actor string, days, limit int) (*KeyUsage, error) {
	key, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	logs, err := s.usage.ListUsageLogs(ctx, key.ID, since, limit)
	if err != nil {
		s.logger.Error("list usage logs failed", "api_key_id", id, "error", err)
		return nil, errInternal()
	}
	return &KeyUsage{Stats: key.Usage, Logs: logs}, nil
}

// load fetches a key and verifies the actor owns it. Ownership is checked
// before any mutation happens.
func (s *KeyService) load(ctx context.Context, id, actor string) (*model.APIKey, error) {
	key, err := s.keys.GetAPIKey(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound()
		}
		s.logger.Error("get key failed", "api_key_id", id, "error", err)
		return nil, errInternal()
	}
	if key.OwnerID != actor {
		return nil, errOwnership()
	}
	return key, nil
}
