package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/store"
)

// LeadHandler serves the partner-facing lead endpoints. Authorization and
// quota enforcement happen in the middleware; by the time a request lands
// here it carries an authorized key in its context.
type LeadHandler struct {
	store *store.Store
}

// NewLeadHandler creates a LeadHandler.
func NewLeadHandler(st *store.Store) *LeadHandler {
	return &LeadHandler{store: st}
}

// ListLeads returns leads with limit/offset pagination.
// GET /api/v1/leads?limit=25&offset=0
func (h *LeadHandler) ListLeads(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 25), 1, 500)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	leads, err := h.store.ListLeads(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list leads")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource": leads,
		"meta": model.ResponseMeta{
			Count:  len(leads),
			Limit:  limit,
			Offset: offset,
		},
	})
}

// GetLead returns a single lead.
// GET /api/v1/leads/{leadId}
func (h *LeadHandler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.store.GetLead(r.Context(), chi.URLParam(r, "leadId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Lead not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load lead")
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

type createLeadRequest struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Phone        string  `json:"phone"`
	Address      string  `json:"address"`
	SystemSizeKW float64 `json:"system_size_kw"`
	Source       string  `json:"source"`
}

// CreateLead submits a new lead on behalf of a partner.
// POST /api/v1/leads
func (h *LeadHandler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Lead name is required")
		return
	}
	if req.Email == "" && req.Phone == "" {
		writeError(w, http.StatusBadRequest, "At least one of email or phone is required")
		return
	}

	lead := &model.Lead{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Address:      req.Address,
		SystemSizeKW: req.SystemSizeKW,
		Source:       req.Source,
	}
	if err := h.store.CreateLead(r.Context(), lead); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create lead")
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}
