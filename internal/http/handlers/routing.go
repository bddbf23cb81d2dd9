package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/calibermed/clinic-crm/internal/routing"
	"github.com/calibermed/clinic-crm/internal/triage"
	"github.com/calibermed/clinic-crm/pkg/logging"
)

// RoutingHandler exposes the dispatch engine, agent directory, rule store
// and queues over HTTP.
type RoutingHandler struct {
	engine               *routing.Engine
	directory            routing.Directory
	rules                routing.RuleStore
	queues               routing.QueueManager
	adapter              *triage.Adapter
	logger               *logging.Logger
	defaultMaxConcurrent int
	drainBatchSize       int
}

// RoutingHandlerConfig carries the handler's operational tunables. Zero
// values fall back to defaults.
type RoutingHandlerConfig struct {
	// DefaultMaxConcurrent is applied to agent registrations that omit
	// max_concurrent_tasks.
	DefaultMaxConcurrent int
	// DrainBatchSize caps a drain sweep when the request has no max param.
	DrainBatchSize int
}

const (
	defaultMaxConcurrentTasks = 3
	defaultDrainBatchSize     = 10
)

// NewRoutingHandler creates a new routing handler.
func NewRoutingHandler(
	engine *routing.Engine,
	directory routing.Directory,
	rules routing.RuleStore,
	queues routing.QueueManager,
	adapter *triage.Adapter,
	logger *logging.Logger,
	cfg RoutingHandlerConfig,
) *RoutingHandler {
	if engine == nil {
		panic("handlers: routing engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.DefaultMaxConcurrent <= 0 {
		cfg.DefaultMaxConcurrent = defaultMaxConcurrentTasks
	}
	if cfg.DrainBatchSize <= 0 {
		cfg.DrainBatchSize = defaultDrainBatchSize
	}
	return &RoutingHandler{
		engine:               engine,
		directory:            directory,
		rules:                rules,
		queues:               queues,
		adapter:              adapter,
		logger:               logger,
		defaultMaxConcurrent: cfg.DefaultMaxConcurrent,
		drainBatchSize:       cfg.DrainBatchSize,
	}
}

// Route handles POST /routing/route requests.
func (h *RoutingHandler) Route(w http.ResponseWriter, r *http.Request) {
	var rctx routing.RoutingContext
	if err := json.NewDecoder(r.Body).Decode(&rctx); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if rctx.TaskID == "" {
		http.Error(w, "task_id is required", http.StatusBadRequest)
		return
	}

	decision, err := h.engine.Route(r.Context(), rctx)
	if err != nil {
		h.logger.Error("routing failed", "error", err, "task_id", rctx.TaskID)
		http.Error(w, "routing failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// ListAgentsResponse wraps the agent list.
type ListAgentsResponse struct {
	Agents []*routing.AgentProfile `json:"agents"`
	Count  int                     `json:"count"`
}

// ListAgents handles GET /routing/agents requests. Pass available=true to
// restrict to agents currently eligible for work.
func (h *RoutingHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	var agents []*routing.AgentProfile
	var err error

	if r.URL.Query().Get("available") == "true" {
		agents, err = h.engine.AvailableAgents(r.Context(), r.URL.Query().Get("team_id"))
	} else {
		agents, err = h.directory.All(r.Context())
	}
	if err != nil {
		h.logger.Error("failed to list agents", "error", err)
		http.Error(w, "failed to list agents", http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []*routing.AgentProfile{}
	}

	writeJSON(w, http.StatusOK, ListAgentsResponse{Agents: agents, Count: len(agents)})
}

// GetAgent handles GET /routing/agents/{agentID} requests.
func (h *RoutingHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	agent, err := h.directory.ByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, routing.ErrAgentNotFound) {
			http.Error(w, "agent not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get agent", "error", err, "agent_id", id)
		http.Error(w, "failed to get agent", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// UpsertAgent handles PUT /admin/routing/agents requests.
func (h *RoutingHandler) UpsertAgent(w http.ResponseWriter, r *http.Request) {
	var profile routing.AgentProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if profile.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if profile.MaxConcurrentTasks < 0 {
		http.Error(w, "max_concurrent_tasks must not be negative", http.StatusBadRequest)
		return
	}
	if profile.MaxConcurrentTasks == 0 {
		profile.MaxConcurrentTasks = h.defaultMaxConcurrent
	}

	if err := h.directory.Upsert(r.Context(), &profile); err != nil {
		h.logger.Error("failed to upsert agent", "error", err, "agent_id", profile.ID)
		http.Error(w, "failed to upsert agent", http.StatusInternalServerError)
		return
	}

	h.logger.Info("agent upserted", "agent_id", profile.ID)
	writeJSON(w, http.StatusOK, &profile)
}

// RemoveAgent handles DELETE /admin/routing/agents/{agentID} requests.
func (h *RoutingHandler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	if err := h.directory.Remove(r.Context(), id); err != nil {
		h.logger.Error("failed to remove agent", "error", err, "agent_id", id)
		http.Error(w, "failed to remove agent", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAvailabilityRequest is the body for availability updates.
type SetAvailabilityRequest struct {
	Availability routing.Availability `json:"availability"`
}

// SetAvailability handles PATCH /admin/routing/agents/{agentID}/availability.
func (h *RoutingHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")

	var req SetAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Availability {
	case routing.AvailabilityAvailable, routing.AvailabilityBusy, routing.AvailabilityOffline:
	default:
		http.Error(w, "invalid availability", http.StatusBadRequest)
		return
	}

	if err := h.directory.SetAvailability(r.Context(), id, req.Availability); err != nil {
		h.logger.Error("failed to set availability", "error", err, "agent_id", id)
		http.Error(w, "failed to set availability", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReleaseAgent handles POST /admin/routing/agents/{agentID}/release. It marks
// one task as completed so the agent's slot frees up.
func (h *RoutingHandler) ReleaseAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	if err := h.directory.Release(r.Context(), id); err != nil {
		h.logger.Error("failed to release agent", "error", err, "agent_id", id)
		http.Error(w, "failed to release agent", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRulesResponse wraps the rule list.
type ListRulesResponse struct {
	Rules []*routing.RoutingRule `json:"rules"`
	Count int                    `json:"count"`
}

// ListRules handles GET /admin/routing/rules requests.
func (h *RoutingHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list rules", "error", err)
		http.Error(w, "failed to list rules", http.StatusInternalServerError)
		return
	}
	if rules == nil {
		rules = []*routing.RoutingRule{}
	}
	writeJSON(w, http.StatusOK, ListRulesResponse{Rules: rules, Count: len(rules)})
}

// UpsertRule handles PUT /admin/routing/rules requests.
func (h *RoutingHandler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	var rule routing.RoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if rule.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	switch rule.Directive.Fallback {
	case "", routing.FallbackQueue, routing.FallbackReassign, routing.FallbackEscalate:
	default:
		http.Error(w, "invalid fallback behavior", http.StatusBadRequest)
		return
	}

	if err := h.rules.Upsert(r.Context(), &rule); err != nil {
		h.logger.Error("failed to upsert rule", "error", err, "rule_id", rule.ID)
		http.Error(w, "failed to upsert rule", http.StatusInternalServerError)
		return
	}

	h.logger.Info("rule upserted", "rule_id", rule.ID, "priority", rule.Priority)
	writeJSON(w, http.StatusOK, &rule)
}

// RemoveRule handles DELETE /admin/routing/rules/{ruleID} requests. The
// store's delete is an idempotent no-op, so existence is checked first to
// give callers a 404 on unknown ids.
func (h *RoutingHandler) RemoveRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	if _, err := h.rules.ByID(r.Context(), id); err != nil {
		if errors.Is(err, routing.ErrRuleNotFound) {
			http.Error(w, "rule not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to look up rule", "error", err, "rule_id", id)
		http.Error(w, "failed to remove rule", http.StatusInternalServerError)
		return
	}
	if err := h.rules.Remove(r.Context(), id); err != nil {
		h.logger.Error("failed to remove rule", "error", err, "rule_id", id)
		http.Error(w, "failed to remove rule", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueueSummary describes one queue's current state.
type QueueSummary struct {
	QueueID              string `json:"queue_id"`
	Length               int    `json:"length"`
	EstimatedWaitSeconds int    `json:"estimated_wait_seconds"`
}

// ListQueuesResponse wraps the queue summaries.
type ListQueuesResponse struct {
	Queues []QueueSummary `json:"queues"`
}

// ListQueues handles GET /routing/queues requests.
func (h *RoutingHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	ids, err := h.queues.QueueIDs(r.Context())
	if err != nil {
		h.logger.Error("failed to list queues", "error", err)
		http.Error(w, "failed to list queues", http.StatusInternalServerError)
		return
	}

	summaries := make([]QueueSummary, 0, len(ids))
	for _, id := range ids {
		length, err := h.queues.Length(r.Context(), id)
		if err != nil {
			h.logger.Error("failed to read queue length", "error", err, "queue_id", id)
			continue
		}
		wait, err := h.queues.EstimatedWaitSeconds(r.Context(), id)
		if err != nil {
			wait = 0
		}
		summaries = append(summaries, QueueSummary{QueueID: id, Length: length, EstimatedWaitSeconds: wait})
	}

	writeJSON(w, http.StatusOK, ListQueuesResponse{Queues: summaries})
}

// QueueDetailResponse lists the tasks waiting in one queue.
type QueueDetailResponse struct {
	QueueID              string                `json:"queue_id"`
	Tasks                []*routing.QueuedTask `json:"tasks"`
	Length               int                   `json:"length"`
	EstimatedWaitSeconds int                   `json:"estimated_wait_seconds"`
}

// GetQueue handles GET /routing/queues/{queueID} requests.
func (h *RoutingHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "queueID")

	tasks, err := h.queues.Tasks(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to read queue", "error", err, "queue_id", id)
		http.Error(w, "failed to read queue", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*routing.QueuedTask{}
	}
	wait, err := h.queues.EstimatedWaitSeconds(r.Context(), id)
	if err != nil {
		wait = 0
	}

	writeJSON(w, http.StatusOK, QueueDetailResponse{
		QueueID:              id,
		Tasks:                tasks,
		Length:               len(tasks),
		EstimatedWaitSeconds: wait,
	})
}

// GetTaskPosition handles GET /routing/tasks/{taskID}/position requests.
func (h *RoutingHandler) GetTaskPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")

	position, err := h.queues.Position(r.Context(), id)
	if err != nil {
		if errors.Is(err, routing.ErrTaskNotQueued) {
			http.Error(w, "task not queued", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to read task position", "error", err, "task_id", id)
		http.Error(w, "failed to read task position", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "position": position})
}

// RemoveTask handles DELETE /admin/routing/tasks/{taskID} requests.
func (h *RoutingHandler) RemoveTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")

	removed, err := h.queues.Remove(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to remove task", "error", err, "task_id", id)
		http.Error(w, "failed to remove task", http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "task not queued", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DrainResponse reports the decisions made by a drain sweep.
type DrainResponse struct {
	Assigned  []*routing.RoutingDecision `json:"assigned"`
	Count     int                        `json:"count"`
	Remaining int                        `json:"remaining"`
}

// DrainQueue handles POST /admin/routing/queues/{queueID}/drain requests. It
// retries queued tasks now that agent capacity may have changed.
func (h *RoutingHandler) DrainQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "queueID")

	max := h.drainBatchSize
	if maxStr := r.URL.Query().Get("max"); maxStr != "" {
		if v, err := strconv.Atoi(maxStr); err == nil && v > 0 && v <= 100 {
			max = v
		}
	}

	decisions, err := h.engine.Drain(r.Context(), id, max)
	if err != nil {
		h.logger.Error("drain failed", "error", err, "queue_id", id)
		http.Error(w, "drain failed", http.StatusInternalServerError)
		return
	}
	if decisions == nil {
		decisions = []*routing.RoutingDecision{}
	}

	remaining, err := h.queues.Length(r.Context(), id)
	if err != nil {
		remaining = 0
	}

	writeJSON(w, http.StatusOK, DrainResponse{Assigned: decisions, Count: len(decisions), Remaining: remaining})
}

// PreviewTriage handles POST /routing/triage/preview requests. The lead is
// triaged and mapped to a routing context without dispatching anything.
func (h *RoutingHandler) PreviewTriage(w http.ResponseWriter, r *http.Request) {
	if h.adapter == nil {
		http.Error(w, "triage not configured", http.StatusServiceUnavailable)
		return
	}

	var input triage.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.adapter.TriageOnly(r.Context(), input)
	if err != nil {
		h.logger.Error("triage preview failed", "error", err)
		http.Error(w, "triage failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// UpdateProcedureMappingRequest carries skill requirements for one procedure.
type UpdateProcedureMappingRequest struct {
	Skills []routing.SkillRequirement `json:"skills"`
}

// UpdateProcedureMapping handles PUT /admin/routing/procedures/{procedure}.
// An empty skill list removes the mapping.
func (h *RoutingHandler) UpdateProcedureMapping(w http.ResponseWriter, r *http.Request) {
	if h.adapter == nil {
		http.Error(w, "triage not configured", http.StatusServiceUnavailable)
		return
	}

	procedure := chi.URLParam(r, "procedure")
	if procedure == "" {
		http.Error(w, "missing procedure", http.StatusBadRequest)
		return
	}

	var req UpdateProcedureMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.adapter.UpdateProcedureMapping(procedure, req.Skills)
	h.logger.Info("procedure mapping updated", "procedure", procedure, "skills", len(req.Skills))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
