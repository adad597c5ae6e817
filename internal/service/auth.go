// Package service implements the API key engine: authorization of partner
// calls, key lifecycle management, best-effort usage recording, and
// scheduled cleanup. All components receive their dependencies (store,
// clock, logger) explicitly.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/ratelimit"
	"github.com/helioscrm/helios/internal/secret"
	"github.com/helioscrm/helios/internal/store"
)

// KeyStore is the persistence contract the engine needs for key records.
// *store.Store implements it; tests may substitute any conforming fake.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
	ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*model.APIKey, error)
	UpdateAPIKey(ctx context.Context, key *model.APIKey) error
	ConsumeQuota(ctx context.Context, id string, limits model.RateLimit, ip string, now time.Time) (model.UsageStats, ratelimit.Window, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// UsageStore is the persistence contract for usage log entries.
type UsageStore interface {
	InsertUsageLog(ctx context.Context, entry *model.UsageLogEntry) error
	ListUsageLogs(ctx context.Context, apiKeyID string, since time.Time, limit int) ([]model.UsageLogEntry, error)
	DeleteUsageLogsBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// RequestMeta carries per-call metadata captured for usage logging. All
// fields are optional; zero values are recorded as-is.
type RequestMeta struct {
	Endpoint    string
	Method      string
	SourceIP    string
	UserAgent   string
	RequestSize int64
}

// AuthService is the request-path entry point: Authorize validates a
// presented secret, applies status, allow-list, scope, and rate-limit
// rules, and records usage.
type AuthService struct {
	keys     KeyStore
	recorder *UsageRecorder
	logger   *slog.Logger

	// timeout bounds every Authorize call; a slow store fails closed.
	timeout time.Duration
	now     func() time.Time
}

// NewAuthService wires the authorization engine. recorder may be nil when
// no usage logging is wanted (tests, CLI checks).
func NewAuthService(keys KeyStore, recorder *UsageRecorder, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		keys:     keys,
		recorder: recorder,
		logger:   logger,
		timeout:  3 * time.Second,
		now:      time.Now,
	}
}

// SetTimeout overrides the per-call budget. Zero or less keeps the default.
func (s *AuthService) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Authorize validates a presented bearer secret and, when requiredScope is
// non-empty, checks it against the key's scopes. On success the key's
// counters have been atomically advanced. Failures are always a *AuthError;
// raw storage errors never reach the caller.
//
// Usage logging is decoupled: the transport calls RecordUsage once the
// response status and timing are known.
func (s *AuthService) Authorize(ctx context.Context, presented string, requiredScope string, meta *RequestMeta) (*model.AuthorizedKey, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if !secret.ValidateFormat(presented) {
		return nil, errMalformed()
	}

	key, err := s.keys.GetAPIKeyByHash(ctx, secret.Hash(presented))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errKeyNotFound()
		}
		s.logger.Error("authorize: hash lookup failed", "error", err)
		return nil, errInternal()
	}

	now := s.now().UTC()

	// Lazy expiry: the transition is persisted on first use past the
	// deadline, so the record reflects reality even without the cleanup
	// job.
	if key.Status == model.StatusActive && key.IsExpired(now) {
		key.Status = model.StatusExpired
		if err := s.keys.UpdateAPIKey(ctx, key); err != nil {
			s.logger.Error("authorize: persist expiry failed", "api_key_id", key.ID, "error", err)
			return nil, errInternal()
		}
		return nil, errInactive(model.StatusExpired)
	}
	if key.Status != model.StatusActive {
		return nil, errInactive(key.Status)
	}

	// A key with an allow-list fails closed: an unknown caller address is
	// a denial, not a bypass.
	if len(key.AllowedIPs) > 0 {
		if meta == nil || meta.SourceIP == "" || !key.AllowsIP(meta.SourceIP) {
			return nil, errIPNotAllowed()
		}
	}

	if requiredScope != "" && !key.HasScope(requiredScope) {
		return nil, errScopeDenied(requiredScope)
	}

	ip := ""
	if meta != nil {
		ip = meta.SourceIP
	}
	usage, window, err := s.keys.ConsumeQuota(ctx, key.ID, key.RateLimit, ip, now)
	if err != nil {
		s.logger.Error("authorize: quota update failed", "api_key_id", key.ID, "error", err)
		return nil, errInternal()
	}
	if window != "" {
		return nil, errRateLimited(window)
	}

	return &model.AuthorizedKey{
		APIKeyID:    key.ID,
		OwnerID:     key.OwnerID,
		Scopes:      key.Scopes,
		Environment: key.Environment,
		Usage:       usage,
	}, nil
}

// RecordUsage hands one log entry to the background recorder. It never
// blocks and never fails: with no recorder configured, or a full queue, the
// entry is dropped.
func (s *AuthService) RecordUsage(entry model.UsageLogEntry) {
	if s.recorder == nil {
		return
	}
	s.recorder.Submit(entry)
}
