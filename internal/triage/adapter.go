package triage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/calibermed/clinic-crm/internal/observability/metrics"
	"github.com/calibermed/clinic-crm/internal/routing"
	"github.com/calibermed/clinic-crm/pkg/logging"
)

// ScoreBoost adds to the routing priority when the lead score reaches the
// band's minimum. Bands are evaluated highest-first and only one applies.
type ScoreBoost struct {
	MinScore int `json:"min_score"`
	Boost    int `json:"boost"`
}

// MappingConfig holds the runtime-configurable translation tables between
// triage vocabulary and routing vocabulary.
type MappingConfig struct {
	ChannelMap                    map[string]routing.Channel             `json:"channel_map"`
	UrgencyMap                    map[string]routing.Urgency             `json:"urgency_map"`
	UrgencyPriority               map[routing.Urgency]int                `json:"urgency_priority"`
	LeadScoreBoosts               []ScoreBoost                           `json:"lead_score_boosts"`
	ProcedureSkills               map[string][]routing.SkillRequirement  `json:"procedure_skills"`
	SLAMinutes                    map[string]int                         `json:"sla_minutes"`
	DefaultSLAMinutes             int                                    `json:"default_sla_minutes"`
	VIPSkillID                    string                                 `json:"vip_skill_id"`
	EscalationSkillID             string                                 `json:"escalation_skill_id"`
	UseSuggestedOwnerAsPreference bool                                   `json:"use_suggested_owner_as_preference"`
}

// DefaultMappingConfig returns the reference mapping tables.
func DefaultMappingConfig() MappingConfig {
	return MappingConfig{
		ChannelMap: map[string]routing.Channel{
			"whatsapp": routing.ChannelWhatsApp,
			"voice":    routing.ChannelVoice,
		},
		UrgencyMap: map[string]routing.Urgency{
			"high_priority": routing.UrgencyCritical,
			"high":          routing.UrgencyHigh,
			"normal":        routing.UrgencyNormal,
			"low":           routing.UrgencyLow,
		},
		UrgencyPriority: map[routing.Urgency]int{
			routing.UrgencyCritical: 100,
			routing.UrgencyHigh:     75,
			routing.UrgencyNormal:   50,
			routing.UrgencyLow:      25,
		},
		LeadScoreBoosts: []ScoreBoost{
			{MinScore: 80, Boost: 15},
			{MinScore: 60, Boost: 10},
			{MinScore: 40, Boost: 5},
		},
		ProcedureSkills: map[string][]routing.SkillRequirement{
			"botox":        {{SkillID: "injectables", MinProficiency: routing.ProficiencyIntermediate}},
			"filler":       {{SkillID: "injectables", MinProficiency: routing.ProficiencyIntermediate}},
			"laser":        {{SkillID: "laser-treatments", MinProficiency: routing.ProficiencyIntermediate}},
			"coolsculpting": {{SkillID: "body-contouring", MinProficiency: routing.ProficiencyBasic}},
			"facial":       {{SkillID: "skincare", MinProficiency: routing.ProficiencyBasic}},
		},
		SLAMinutes: map[string]int{
			"next_available_slot": 15,
			"same_day":            60,
			"next_business_day":   480,
			"nurture_sequence":    1440,
		},
		DefaultSLAMinutes:             60,
		VIPSkillID:                    "vip-handling",
		EscalationSkillID:             "escalation-handling",
		UseSuggestedOwnerAsPreference: true,
	}
}

// Outcome is what the adapter produces for one contact.
type Outcome struct {
	TriageResult      *Result                     `json:"triage_result"`
	SkillRequirements []routing.SkillRequirement  `json:"skill_requirements"`
	Context           routing.RoutingContext      `json:"context"`
	Decision          *routing.RoutingDecision    `json:"routing_decision,omitempty"`
}

// Adapter turns triage results into routing requests and hands them to the
// dispatch engine.
type Adapter struct {
	assessor Assessor
	engine   *routing.Engine
	metrics  *metrics.RoutingMetrics
	logger   *logging.Logger

	mu     sync.RWMutex
	config MappingConfig
}

// NewAdapter wires a triage-to-routing adapter. engine may be nil only for
// triage-only use; metrics may be nil.
func NewAdapter(assessor Assessor, engine *routing.Engine, config MappingConfig, m *metrics.RoutingMetrics, logger *logging.Logger) *Adapter {
	if assessor == nil {
		panic("triage: assessor required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	normalizeProcedures(config.ProcedureSkills)
	sort.Slice(config.LeadScoreBoosts, func(i, j int) bool {
		return config.LeadScoreBoosts[i].MinScore > config.LeadScoreBoosts[j].MinScore
	})
	return &Adapter{
		assessor: assessor,
		engine:   engine,
		metrics:  m,
		logger:   logger,
		config:   config,
	}
}

// TriageAndRoute assesses the contact and routes the resulting request.
func (a *Adapter) TriageAndRoute(ctx context.Context, input Input) (*Outcome, error) {
	outcome, err := a.TriageOnly(ctx, input)
	if err != nil {
		return nil, err
	}
	if a.engine == nil {
		return nil, fmt.Errorf("triage: no dispatch engine wired")
	}
	decision, err := a.engine.Route(ctx, outcome.Context)
	if err != nil {
		return nil, fmt.Errorf("triage: route: %w", err)
	}
	outcome.Decision = decision
	return outcome, nil
}

// TriageOnly assesses the contact and builds the routing request without
// calling the dispatch engine. Used by preview/estimation paths.
func (a *Adapter) TriageOnly(ctx context.Context, input Input) (*Outcome, error) {
	result, err := a.assessor.Assess(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("triage: assess: %w", err)
	}

	a.mu.RLock()
	cfg := a.config
	rctx, required := a.buildContext(input, result, cfg)
	a.mu.RUnlock()

	a.metrics.ObserveTriage(string(rctx.Urgency))
	a.logger.Info("triage mapped",
		"lead_id", input.LeadID,
		"urgency", rctx.Urgency,
		"priority", rctx.Priority,
		"sla_minutes", rctx.SLADeadlineMinutes,
		"required_skills", len(required),
	)
	return &Outcome{
		TriageResult:      result,
		SkillRequirements: required,
		Context:           rctx,
	}, nil
}

// buildContext is called with the config lock held.
func (a *Adapter) buildContext(input Input, result *Result, cfg MappingConfig) (routing.RoutingContext, []routing.SkillRequirement) {
	channel, ok := cfg.ChannelMap[strings.ToLower(input.Channel)]
	if !ok {
		channel = routing.ChannelWeb
	}
	urgency, ok := cfg.UrgencyMap[strings.ToLower(result.UrgencyLevel)]
	if !ok {
		urgency = routing.UrgencyNormal
	}

	priority := cfg.UrgencyPriority[urgency]
	for _, band := range cfg.LeadScoreBoosts {
		if input.LeadScore >= band.MinScore {
			priority += band.Boost
			break
		}
	}

	var required []routing.SkillRequirement
	for _, procedure := range input.ProcedureInterests {
		// Unmapped procedures contribute nothing; never an error.
		for _, skill := range cfg.ProcedureSkills[strings.ToLower(procedure)] {
			required = mergeRequirement(required, skill)
		}
	}

	var preferred []routing.SkillRequirement
	if cfg.VIPSkillID != "" && a.assessor.IsVIP(input.Message) {
		preferred = mergeRequirement(preferred, routing.SkillRequirement{
			SkillID:        cfg.VIPSkillID,
			MinProficiency: routing.ProficiencyIntermediate,
		})
	}
	if urgency == routing.UrgencyHigh || urgency == routing.UrgencyCritical {
		if cfg.EscalationSkillID != "" {
			preferred = mergeRequirement(preferred, routing.SkillRequirement{
				SkillID: cfg.EscalationSkillID,
			})
		}
		// Escalated contacts deserve a senior hand on the primary skill.
		if len(required) > 0 && !required[0].MinProficiency.AtLeast(routing.ProficiencyAdvanced) {
			required[0].MinProficiency = routing.ProficiencyAdvanced
		}
	}

	var preferAgents []string
	if cfg.UseSuggestedOwnerAsPreference && result.SuggestedOwner != "" {
		preferAgents = append(preferAgents, result.SuggestedOwner)
	}

	sla, ok := cfg.SLAMinutes[strings.ToLower(result.RoutingRecommendation)]
	if !ok {
		sla = cfg.DefaultSLAMinutes
	}

	taskID := input.LeadID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	procedureType := ""
	if len(input.ProcedureInterests) > 0 {
		procedureType = strings.ToLower(input.ProcedureInterests[0])
	}

	return routing.RoutingContext{
		TaskID:               taskID,
		Channel:              channel,
		Urgency:              urgency,
		ProcedureType:        procedureType,
		RequiredSkills:       required,
		PreferredSkills:      preferred,
		PreferAgentIDs:       preferAgents,
		Priority:             priority,
		SLADeadlineMinutes:   sla,
		ExistingRelationship: input.ExistingRelationship,
	}, required
}

// UpdateProcedureMapping replaces the skill requirements for one procedure
// at runtime. An empty skill list removes the mapping.
func (a *Adapter) UpdateProcedureMapping(procedure string, skills []routing.SkillRequirement) {
	key := strings.ToLower(strings.TrimSpace(procedure))
	if key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(skills) == 0 {
		delete(a.config.ProcedureSkills, key)
		return
	}
	a.config.ProcedureSkills[key] = append([]routing.SkillRequirement(nil), skills...)
}

// Config returns a read-only snapshot of the mapping tables.
func (a *Adapter) Config() MappingConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snapshot := a.config
	snapshot.ChannelMap = copyMap(a.config.ChannelMap)
	snapshot.UrgencyMap = copyMap(a.config.UrgencyMap)
	snapshot.UrgencyPriority = copyMap(a.config.UrgencyPriority)
	snapshot.SLAMinutes = copyMap(a.config.SLAMinutes)
	snapshot.LeadScoreBoosts = append([]ScoreBoost(nil), a.config.LeadScoreBoosts...)
	snapshot.ProcedureSkills = make(map[string][]routing.SkillRequirement, len(a.config.ProcedureSkills))
	for k, v := range a.config.ProcedureSkills {
		snapshot.ProcedureSkills[k] = append([]routing.SkillRequirement(nil), v...)
	}
	return snapshot
}

// mergeRequirement appends or tightens a requirement, keeping the highest
// minimum proficiency per skill id.
func mergeRequirement(reqs []routing.SkillRequirement, req routing.SkillRequirement) []routing.SkillRequirement {
	for i := range reqs {
		if reqs[i].SkillID == req.SkillID {
			if req.MinProficiency.Rank() > reqs[i].MinProficiency.Rank() {
				reqs[i].MinProficiency = req.MinProficiency
			}
			return reqs
		}
	}
	return append(reqs, req)
}

func normalizeProcedures(m map[string][]routing.SkillRequirement) {
	for k, v := range m {
		lower := strings.ToLower(k)
		if lower != k {
			delete(m, k)
			m[lower] = v
		}
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
