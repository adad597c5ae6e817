package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/server/middleware"
	"github.com/helioscrm/helios/internal/service"
	"github.com/helioscrm/helios/internal/store"
)

// SystemHandler owns the admin-facing management surface: sessions, admin
// accounts, and the full API key lifecycle.
type SystemHandler struct {
	keys     *service.KeyService
	sessions *service.SessionService
	store    *store.Store
	ttl      time.Duration
}

// NewSystemHandler creates a SystemHandler. ttl is the session token
// lifetime reported to clients.
func NewSystemHandler(keys *service.KeyService, sessions *service.SessionService, st *store.Store, ttl time.Duration) *SystemHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SystemHandler{keys: keys, sessions: sessions, store: st, ttl: ttl}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   string `json:"admin_id"`
	Email     string `json:"email"`
}

// Login authenticates an admin and returns a JWT session token.
// POST /api/v1/system/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	token, principal, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.ttl.Seconds()),
		AdminID:   principal.AdminID,
		Email:     principal.Email,
	})
}

// Logout ends the session. JWTs are stateless, so the server side is a
// no-op; clients discard their token.
// DELETE /api/v1/system/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Admin accounts
// ---------------------------------------------------------------------------

type createAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// CreateAdmin registers a new admin account.
// POST /api/v1/system/admin
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	admin := &model.Admin{
		Email:        req.Email,
		PasswordHash: store.HashPassword(req.Password),
		Name:         req.Name,
		IsActive:     true,
	}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "An admin with that email already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create admin")
		return
	}
	writeJSON(w, http.StatusCreated, admin)
}

// ListAdmins returns all admin accounts.
// GET /api/v1/system/admin
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": admins})
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

type createKeyRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Scopes         []string        `json:"scopes"`
	Environment    string          `json:"environment"`
	ExpiresInDays  int             `json:"expires_in_days"`
	RateLimit      model.RateLimit `json:"rate_limit"`
	AllowedIPs     []string        `json:"allowed_ips"`
	AllowedDomains []string        `json:"allowed_domains"`
	OrganizationID string          `json:"organization_id"`
}

// createKeyResponse is the only place the plaintext secret ever appears.
type createKeyResponse struct {
	APIKeyID  string `json:"api_key_id"`
	Secret    string `json:"secret"`
	KeyPrefix string `json:"key_prefix"`
	Warning   string `json:"warning"`
}

const secretWarning = "Store this secret now. It cannot be retrieved again."

// CreateAPIKey issues a new key owned by the calling admin.
// POST /api/v1/system/api-key
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAdmin(r.Context())
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	created, err := h.keys.CreateKey(r.Context(), service.CreateKeyParams{
		OwnerID:        admin.AdminID,
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		Scopes:         req.Scopes,
		Environment:    model.Environment(req.Environment),
		ExpiresInDays:  req.ExpiresInDays,
		RateLimit:      req.RateLimit,
		AllowedIPs:     req.AllowedIPs,
		AllowedDomains: req.AllowedDomains,
	})
	if err != nil {
		var authErr *service.AuthError
		if errors.As(err, &authErr) {
			writeServiceError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{
		APIKeyID:  created.APIKeyID,
		Secret:    created.Secret,
		KeyPrefix: created.KeyPrefix,
		Warning:   secretWarning,
	})
}

// ListAPIKeys returns the calling admin's keys. Hashes are never included;
// only the display prefix identifies each key.
// GET /api/v1/system/api-key
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAdmin(r.Context())
	keys, err := h.keys.ListKeys(r.Context(), admin.AdminID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": keys})
}

// GetAPIKey returns one key.
// GET /api/v1/system/api-key/{keyId}
func (h *SystemHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAdmin(r.Context())
	key, err := h.keys.GetKey(r.Context(), chi.URLParam(r, "keyId"), admin.AdminID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// RevokeAPIKey permanently disables a key.
// DELETE /api/v1/system/api-key/{keyId}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAdmin(r.Context())
	var req revokeRequest
	_ = readJSON(r, &req) // body is optional

	status, err := h.keys.RevokeKey(r.Context(), chi.URLParam(r, "keyId"), admin.AdminID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": status})
}

// RotateAPIKey swaps the key's secret and returns the new one. The old
// secret stops working immediately.
// POST /api/v1/system/api-key/{keyId}/rotate
func (h *SystemHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAdmin(r.Context())
	rotated, err := h.keys.RotateKey(r.Context(), chi.URLParam(r, "keyId"), admin.AdminID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createKeyResponse{
		APIKeyID:  rotated.APIKeyID,
		Secret:    rotated.Secret,
		KeyPrefix: rotated.KeyPrefix,
		Warning:   secretWarning,
	})
}

// UpdateAPIKey applies a partial update. Fields outside the allow-list are
// ignored.
// PATCH /api/v1/system/api-key/{keyId}
func (h *SystemHandler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAdmin(r.Context())
	var fields map[string]interface{}
	if err := readJSON(r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	id := chi.URLParam(r, "keyId")
	if err := h.keys.UpdateKey(r.Context(), id, admin.AdminID, fields); err != nil {
		var authErr *service.AuthError
		if errors.As(err, &authErr) {
			writeServiceError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := h.keys.GetKey(r.Context(), id, admin.AdminID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// GetAPIKeyUsage returns a key's live counters and recent usage log.
// GET /api/v1/system/api-key/{keyId}/usage?days=7&limit=100
func (h *SystemHandler) GetAPIKeyUsage(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAdmin(r.Context())
	days := clampInt(queryInt(r, "days", 7), 1, 90)
	limit := clampInt(queryInt(r, "limit", 100), 1, 1000)

	usage, err := h.keys.GetUsage(r.Context(), chi.URLParam(r, "keyId"), admin.AdminID, days, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
