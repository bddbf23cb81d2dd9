package leads

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/calibermed/clinic-crm/internal/triage"
	"github.com/calibermed/clinic-crm/pkg/logging"
)

// Handler handles HTTP requests for leads
type Handler struct {
	repo    Repository
	adapter *triage.Adapter
	logger  *logging.Logger
}

// NewHandler creates a new leads handler
func NewHandler(repo Repository, adapter *triage.Adapter, logger *logging.Logger) *Handler {
	if repo == nil {
		panic("leads: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		repo:    repo,
		adapter: adapter,
		logger:  logger,
	}
}

// CreateLeadResponse is the response for lead intake. Routing is populated
// when a triage adapter is configured.
type CreateLeadResponse struct {
	Lead    *Lead           `json:"lead"`
	Routing *triage.Outcome `json:"routing,omitempty"`
}

// CreateLead handles POST /leads requests. The lead is persisted first, then
// triaged and routed; a routing failure never loses the lead.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req CreateLeadRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	lead, err := h.repo.Create(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create lead", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := CreateLeadResponse{Lead: lead}
	if h.adapter != nil {
		outcome, err := h.adapter.TriageAndRoute(r.Context(), triage.Input{
			LeadID:               lead.ID,
			LeadScore:            lead.LeadScore,
			Channel:              lead.Source,
			Message:              lead.Message,
			ProcedureInterests:   lead.ProcedureInterests,
			ExistingRelationship: lead.ExistingRelationship,
		})
		if err != nil {
			h.logger.Error("failed to route lead", "error", err, "lead_id", lead.ID)
		} else {
			resp.Routing = outcome
		}
	}

	h.logger.Info("lead created", "id", lead.ID, "name", lead.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// GetLead handles GET /leads/{leadID} requests
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "leadID")
	if id == "" {
		http.Error(w, "missing lead id", http.StatusBadRequest)
		return
	}

	lead, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			http.Error(w, "lead not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get lead", "error", err, "lead_id", id)
		http.Error(w, "failed to get lead", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(lead)
}

// ListLeadsResponse is the response for listing leads
type ListLeadsResponse struct {
	Leads  []*Lead `json:"leads"`
	Count  int     `json:"count"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
}

// ListLeads handles GET /admin/leads requests
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if v, err := strconv.Atoi(offsetStr); err == nil && v >= 0 {
			offset = v
		}
	}

	leads, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list leads", "error", err)
		http.Error(w, "failed to list leads", http.StatusInternalServerError)
		return
	}

	response := ListLeadsResponse{
		Leads:  leads,
		Count:  len(leads),
		Offset: offset,
		Limit:  limit,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
