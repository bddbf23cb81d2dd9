package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calibermed/clinic-crm/internal/observability/metrics"
	"github.com/calibermed/clinic-crm/pkg/logging"
)

var engineTracer = otel.Tracer("cliniccrm/routing")

// Scoring weights. The base score rewards satisfying every required skill;
// bonuses stack per preferred skill and for explicitly preferred agents;
// the load penalty scales with CurrentTaskCount / MaxConcurrentTasks.
const (
	scoreRequiredBase   = 50.0
	scorePreferredSkill = 10.0
	scorePreferredAgent = 15.0
	scoreLoadPenalty    = 20.0

	// DefaultMatchThreshold is the minimum score an agent must reach to
	// be assigned. It sits below scoreRequiredBase minus the maximum
	// load penalty, so an under-capacity agent that satisfies every
	// required skill always qualifies by default.
	DefaultMatchThreshold = 30.0
)

// EngineConfig tunes dispatch behavior.
type EngineConfig struct {
	// MatchThreshold below which no candidate is assigned. Zero uses
	// DefaultMatchThreshold.
	MatchThreshold float64
}

// Engine matches routing requests against the agent directory, falling
// back to rule-driven queueing or escalation when nobody is eligible.
type Engine struct {
	directory Directory
	rules     RuleStore
	queues    QueueManager
	metrics   *metrics.RoutingMetrics
	logger    *logging.Logger
	threshold float64
}

// NewEngine wires a dispatch engine. metrics may be nil.
func NewEngine(directory Directory, rules RuleStore, queues QueueManager, m *metrics.RoutingMetrics, logger *logging.Logger, cfg EngineConfig) *Engine {
	if directory == nil || rules == nil || queues == nil {
		panic("routing: engine requires directory, rules, and queues")
	}
	if logger == nil {
		logger = logging.Default()
	}
	threshold := cfg.MatchThreshold
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &Engine{
		directory: directory,
		rules:     rules,
		queues:    queues,
		metrics:   m,
		logger:    logger,
		threshold: threshold,
	}
}

// candidate pairs an agent with its computed match score.
type candidate struct {
	agent *AgentProfile
	score float64
}

// Route resolves a routing request to an assignment, a queued task, or an
// escalation. Assignment and the capacity increment happen atomically via
// Directory.Acquire, so concurrent routes cannot oversubscribe an agent.
func (e *Engine) Route(ctx context.Context, rctx RoutingContext) (*RoutingDecision, error) {
	start := time.Now()
	ctx, span := engineTracer.Start(ctx, "routing.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("routing.task_id", rctx.TaskID),
		attribute.String("routing.urgency", string(rctx.Urgency)),
		attribute.String("routing.channel", string(rctx.Channel)),
	)

	decision, err := e.route(ctx, rctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("routing.outcome", string(decision.Outcome)))
	e.metrics.ObserveDecision(string(decision.Outcome), time.Since(start).Seconds())
	e.logger.Info("route decided",
		"task_id", rctx.TaskID,
		"outcome", decision.Outcome,
		"agent_id", decision.AgentID,
		"queue_id", decision.QueueID,
		"score", decision.Score,
	)
	return decision, nil
}

func (e *Engine) route(ctx context.Context, rctx RoutingContext) (*RoutingDecision, error) {
	if winner, ok, err := e.selectAgent(ctx, rctx); err != nil {
		return nil, err
	} else if ok {
		return e.assignedDecision(rctx, winner, ""), nil
	}

	rule, err := e.matchingRule(ctx, rctx)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		// No rule claims this request; queue it so the caller keeps
		// forward progress.
		return e.queuedDecision(ctx, rctx, "", "no eligible agent and no matching rule")
	}

	switch rule.Directive.Fallback {
	case FallbackEscalate:
		return &RoutingDecision{
			ID:        uuid.NewString(),
			Outcome:   OutcomeEscalated,
			Reasoning: fmt.Sprintf("no eligible agent; rule %q escalates", rule.Name),
			RuleID:    rule.ID,
			CreatedAt: time.Now().UTC(),
		}, nil
	case FallbackReassign:
		relaxed := relaxContext(rctx)
		if winner, ok, err := e.selectAgent(ctx, relaxed); err != nil {
			return nil, err
		} else if ok {
			return e.assignedDecision(relaxed, winner, rule.ID), nil
		}
		return e.queuedDecision(ctx, rctx, rule.ID,
			fmt.Sprintf("rule %q reassign found no agent under relaxed constraints", rule.Name))
	default: // FallbackQueue and anything unrecognized degrade to queueing.
		return e.queuedDecision(ctx, rctx, rule.ID,
			fmt.Sprintf("no eligible agent; rule %q queues", rule.Name))
	}
}

// selectAgent scores the candidate pool and acquires the best agent over
// the threshold. On an acquire race loss it moves to the next candidate.
func (e *Engine) selectAgent(ctx context.Context, rctx RoutingContext) (*candidate, bool, error) {
	pool, err := e.directory.Available(ctx, rctx.TeamID)
	if err != nil {
		return nil, false, fmt.Errorf("routing: list available agents: %w", err)
	}

	candidates := make([]candidate, 0, len(pool))
	for _, agent := range pool {
		if !meetsRequirements(agent, rctx.RequiredSkills) {
			continue
		}
		candidates = append(candidates, candidate{agent: agent, score: e.score(agent, rctx)})
	}
	sortCandidates(candidates, rctx)

	for i := range candidates {
		c := &candidates[i]
		if c.score < e.threshold {
			break
		}
		acquired, err := e.directory.Acquire(ctx, c.agent.ID)
		if err != nil {
			return nil, false, fmt.Errorf("routing: acquire agent %s: %w", c.agent.ID, err)
		}
		if acquired {
			return c, true, nil
		}
	}
	return nil, false, nil
}

func meetsRequirements(agent *AgentProfile, required []SkillRequirement) bool {
	for _, req := range required {
		if !agent.HasSkill(req.SkillID, req.MinProficiency) {
			return false
		}
	}
	return true
}

func (e *Engine) score(agent *AgentProfile, rctx RoutingContext) float64 {
	score := scoreRequiredBase
	for _, pref := range rctx.PreferredSkills {
		if agent.HasSkill(pref.SkillID, pref.MinProficiency) {
			score += scorePreferredSkill
		}
	}
	for _, id := range rctx.PreferAgentIDs {
		if id == agent.ID {
			score += scorePreferredAgent
			break
		}
	}
	score -= scoreLoadPenalty * agent.LoadRatio()
	return score
}

// sortCandidates orders by score, then by proficiency on the primary
// required skill, then by load, then by least-recently-updated profile.
func sortCandidates(candidates []candidate, rctx RoutingContext) {
	primary := ""
	if len(rctx.RequiredSkills) > 0 {
		primary = rctx.RequiredSkills[0].SkillID
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if primary != "" {
			ra, rb := 0, 0
			if s := a.agent.Skill(primary); s != nil {
				ra = s.Proficiency.Rank()
			}
			if s := b.agent.Skill(primary); s != nil {
				rb = s.Proficiency.Rank()
			}
			if ra != rb {
				return ra > rb
			}
		}
		la, lb := a.agent.LoadRatio(), b.agent.LoadRatio()
		if la != lb {
			return la < lb
		}
		return a.agent.UpdatedAt.Before(b.agent.UpdatedAt)
	})
}

// relaxContext widens a request for a reassign retry: preferred-skill and
// preferred-agent bonuses are dropped, team scoping is removed, and each
// required skill's minimum proficiency steps down one level.
func relaxContext(rctx RoutingContext) RoutingContext {
	relaxed := rctx
	relaxed.PreferredSkills = nil
	relaxed.PreferAgentIDs = nil
	relaxed.TeamID = ""
	relaxed.RequiredSkills = make([]SkillRequirement, len(rctx.RequiredSkills))
	for i, req := range rctx.RequiredSkills {
		req.MinProficiency = stepDown(req.MinProficiency)
		relaxed.RequiredSkills[i] = req
	}
	return relaxed
}

func stepDown(p Proficiency) Proficiency {
	switch p {
	case ProficiencyExpert:
		return ProficiencyAdvanced
	case ProficiencyAdvanced:
		return ProficiencyIntermediate
	default:
		return ProficiencyBasic
	}
}

func (e *Engine) assignedDecision(rctx RoutingContext, winner *candidate, ruleID string) *RoutingDecision {
	reasons := []string{"all required skills met"}
	if len(rctx.PreferredSkills) > 0 {
		matched := 0
		for _, pref := range rctx.PreferredSkills {
			if winner.agent.HasSkill(pref.SkillID, pref.MinProficiency) {
				matched++
			}
		}
		reasons = append(reasons, fmt.Sprintf("%d/%d preferred skills", matched, len(rctx.PreferredSkills)))
	}
	for _, id := range rctx.PreferAgentIDs {
		if id == winner.agent.ID {
			reasons = append(reasons, "explicitly preferred agent")
			break
		}
	}
	reasons = append(reasons, fmt.Sprintf("load %d/%d", winner.agent.CurrentTaskCount, winner.agent.MaxConcurrentTasks))

	return &RoutingDecision{
		ID:        uuid.NewString(),
		Outcome:   OutcomeAssigned,
		AgentID:   winner.agent.ID,
		Score:     winner.score,
		Reasoning: fmt.Sprintf("assigned to %s (score %.1f: %s)", winner.agent.ID, winner.score, strings.Join(reasons, ", ")),
		RuleID:    ruleID,
		CreatedAt: time.Now().UTC(),
	}
}

func (e *Engine) queuedDecision(ctx context.Context, rctx RoutingContext, ruleID, reason string) (*RoutingDecision, error) {
	taskID := rctx.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	queueID, position, err := e.queues.Enqueue(ctx, taskID, rctx, rctx.Priority)
	if err != nil {
		return nil, fmt.Errorf("routing: enqueue task %s: %w", taskID, err)
	}
	e.observeQueueDepth(ctx, queueID)

	return &RoutingDecision{
		ID:            uuid.NewString(),
		Outcome:       OutcomeQueued,
		Reasoning:     fmt.Sprintf("%s; queued at position %d", reason, position),
		RuleID:        ruleID,
		QueueID:       queueID,
		QueuePosition: position,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// matchingRule returns the highest-priority active rule matching the
// request, or nil when none does.
func (e *Engine) matchingRule(ctx context.Context, rctx RoutingContext) (*RoutingRule, error) {
	query := RuleConditions{}
	if rctx.ProcedureType != "" {
		query.ProcedureTypes = []string{rctx.ProcedureType}
	}
	if rctx.Urgency != "" {
		query.UrgencyLevels = []Urgency{rctx.Urgency}
	}
	if rctx.Channel != "" {
		query.Channels = []Channel{rctx.Channel}
	}
	rules, err := e.rules.Matching(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("routing: match rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return rules[0], nil
}

// AvailableAgents is a read-only passthrough to the directory for
// monitoring and UI use.
func (e *Engine) AvailableAgents(ctx context.Context, teamID string) ([]*AgentProfile, error) {
	return e.directory.Available(ctx, teamID)
}

// Drain attempts to assign up to max queued tasks from the queue. The
// caller invokes it after availability or capacity changes; the engine
// never resumes queued work on its own. Draining stops at the first task
// that still has no eligible agent, which goes back to the head of its
// priority band with its original enqueue time.
func (e *Engine) Drain(ctx context.Context, queueID string, max int) ([]*RoutingDecision, error) {
	ctx, span := engineTracer.Start(ctx, "routing.drain")
	defer span.End()
	span.SetAttributes(attribute.String("routing.queue_id", queueID))

	var decisions []*RoutingDecision
	for i := 0; i < max; i++ {
		task, err := e.queues.Dequeue(ctx, queueID)
		if err == ErrQueueEmpty {
			break
		}
		if err != nil {
			return decisions, fmt.Errorf("routing: drain dequeue: %w", err)
		}

		winner, ok, err := e.selectAgent(ctx, task.Context)
		if err != nil {
			return decisions, err
		}
		if !ok {
			// Still nobody eligible; put it back and stop sweeping.
			if _, err := e.queues.Requeue(ctx, task); err != nil {
				return decisions, fmt.Errorf("routing: drain requeue: %w", err)
			}
			break
		}

		decision := e.assignedDecision(task.Context, winner, "")
		decisions = append(decisions, decision)
		e.metrics.ObserveDecision(string(decision.Outcome), 0)
		e.logger.Info("queued task assigned",
			"task_id", task.TaskID,
			"agent_id", decision.AgentID,
			"queue_id", queueID,
		)
	}
	e.observeQueueDepth(ctx, queueID)
	return decisions, nil
}

func (e *Engine) observeQueueDepth(ctx context.Context, queueID string) {
	if e.metrics == nil {
		return
	}
	if depth, err := e.queues.Length(ctx, queueID); err == nil {
		e.metrics.SetQueueDepth(queueID, depth)
	}
}
