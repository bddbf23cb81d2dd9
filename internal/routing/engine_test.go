package routing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calibermed/clinic-crm/pkg/logging"
)

type engineFixture struct {
	directory *MemoryDirectory
	rules     *MemoryRuleStore
	queues    *MemoryQueueManager
	engine    *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		directory: NewMemoryDirectory(),
		rules:     NewMemoryRuleStore(),
		queues:    NewMemoryQueueManager(0),
	}
	f.engine = NewEngine(f.directory, f.rules, f.queues, nil, logging.New("error"), EngineConfig{})
	return f
}

func (f *engineFixture) addAgent(t *testing.T, agent *AgentProfile) {
	t.Helper()
	require.NoError(t, f.directory.Upsert(context.Background(), agent))
}

func (f *engineFixture) addRule(t *testing.T, rule *RoutingRule) {
	t.Helper()
	require.NoError(t, f.rules.Upsert(context.Background(), rule))
}

func injectablesContext(taskID string) RoutingContext {
	return RoutingContext{
		TaskID:        taskID,
		Channel:       ChannelWeb,
		Urgency:       UrgencyNormal,
		ProcedureType: "botox",
		Priority:      50,
		RequiredSkills: []SkillRequirement{
			{SkillID: "injectables", MinProficiency: ProficiencyIntermediate},
		},
	}
}

func TestEngineAssignsQualifiedAgent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addAgent(t, testAgent("nurse-1", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true}))

	decision, err := f.engine.Route(ctx, injectablesContext("task-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, decision.Outcome)
	assert.Equal(t, "nurse-1", decision.AgentID)
	assert.NotEmpty(t, decision.Reasoning)

	agent, err := f.directory.ByID(ctx, "nurse-1")
	require.NoError(t, err)
	assert.Equal(t, 1, agent.CurrentTaskCount, "assignment must increment the task count")
}

func TestEngineExcludesUnqualifiedAgents(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	// Below minimum proficiency.
	f.addAgent(t, testAgent("junior", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyBasic, Active: true}))
	// Right proficiency, inactive skill.
	f.addAgent(t, testAgent("inactive", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyExpert, Active: false}))
	// Qualified but offline.
	f.addAgent(t, testAgent("offline", "", AvailabilityOffline,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyExpert, Active: true}))

	decision, err := f.engine.Route(ctx, injectablesContext("task-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, decision.Outcome, "nobody qualifies, task must queue")
	assert.Empty(t, decision.AgentID)
}

func TestEnginePrefersHigherScore(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addAgent(t, testAgent("plain", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true}))
	f.addAgent(t, testAgent("preferred", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true},
		AgentSkill{SkillID: "vip-handling", Proficiency: ProficiencyIntermediate, Active: true}))

	rctx := injectablesContext("task-1")
	rctx.PreferredSkills = []SkillRequirement{{SkillID: "vip-handling"}}

	decision, err := f.engine.Route(ctx, rctx)
	require.NoError(t, err)
	assert.Equal(t, "preferred", decision.AgentID)
	assert.Greater(t, decision.Score, DefaultMatchThreshold)
}

func TestEnginePreferredAgentBonus(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addAgent(t, testAgent("a", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true}))
	f.addAgent(t, testAgent("b", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true}))

	rctx := injectablesContext("task-1")
	rctx.PreferAgentIDs = []string{"b"}

	decision, err := f.engine.Route(ctx, rctx)
	require.NoError(t, err)
	assert.Equal(t, "b", decision.AgentID)
}

func TestEngineLoadBalancesEqualCandidates(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	loaded := testAgent("loaded", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true})
	loaded.CurrentTaskCount = 2
	f.addAgent(t, loaded)
	f.addAgent(t, testAgent("idle", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true}))

	decision, err := f.engine.Route(ctx, injectablesContext("task-1"))
	require.NoError(t, err)
	assert.Equal(t, "idle", decision.AgentID)
}

func TestEngineTieBreaksOnPrimarySkillProficiency(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addAgent(t, testAgent("advanced", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true}))
	f.addAgent(t, testAgent("expert", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyExpert, Active: true}))

	decision, err := f.engine.Route(ctx, injectablesContext("task-1"))
	require.NoError(t, err)
	assert.Equal(t, "expert", decision.AgentID)
}

func TestEngineQueueFallbackUsesMatchingRule(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addRule(t, &RoutingRule{
		ID:       "queue-botox",
		Name:     "queue botox requests",
		Priority: 50,
		Active:   true,
		Conditions: RuleConditions{
			ProcedureTypes: []string{"botox"},
		},
		Directive: RoutingDirective{Fallback: FallbackQueue, MaxQueueTimeSeconds: 600},
	})

	rctx := injectablesContext("task-1")
	rctx.TeamID = "team-a"
	decision, err := f.engine.Route(ctx, rctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, decision.Outcome)
	assert.Equal(t, "queue-botox", decision.RuleID)
	assert.Equal(t, "team-a", decision.QueueID)
	assert.Equal(t, 1, decision.QueuePosition)
	assert.Contains(t, decision.Reasoning, "queue botox requests")

	length, err := f.queues.Length(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestEngineEscalateFallback(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addRule(t, &RoutingRule{
		ID:         "escalate-critical",
		Name:       "escalate critical",
		Priority:   90,
		Active:     true,
		Conditions: RuleConditions{UrgencyLevels: []Urgency{UrgencyCritical}},
		Directive:  RoutingDirective{Fallback: FallbackEscalate},
	})

	rctx := injectablesContext("task-1")
	rctx.Urgency = UrgencyCritical
	decision, err := f.engine.Route(ctx, rctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, decision.Outcome)
	assert.Empty(t, decision.AgentID)
	assert.Equal(t, "escalate-critical", decision.RuleID)

	length, err := f.queues.Length(ctx, DefaultQueueID)
	require.NoError(t, err)
	assert.Zero(t, length, "escalated tasks are not queued")
}

func TestEngineReassignRelaxesConstraints(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	// Only candidate is on another team and one proficiency step short.
	f.addAgent(t, testAgent("cross-team", "team-b", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyBasic, Active: true}))
	f.addRule(t, &RoutingRule{
		ID:        "reassign-any",
		Name:      "reassign",
		Priority:  10,
		Active:    true,
		Directive: RoutingDirective{Fallback: FallbackReassign},
	})

	rctx := injectablesContext("task-1")
	rctx.TeamID = "team-a"
	decision, err := f.engine.Route(ctx, rctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, decision.Outcome)
	assert.Equal(t, "cross-team", decision.AgentID)
	assert.Equal(t, "reassign-any", decision.RuleID)
}

func TestEngineReassignQueuesWhenRelaxationFails(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addRule(t, &RoutingRule{
		ID:        "reassign-any",
		Name:      "reassign",
		Priority:  10,
		Active:    true,
		Directive: RoutingDirective{Fallback: FallbackReassign},
	})

	decision, err := f.engine.Route(ctx, injectablesContext("task-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, decision.Outcome)
	assert.Equal(t, "reassign-any", decision.RuleID)
}

func TestEngineQueuesWithoutMatchingRule(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	decision, err := f.engine.Route(ctx, injectablesContext("task-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, decision.Outcome)
	assert.Empty(t, decision.RuleID)
	assert.Contains(t, decision.Reasoning, "no matching rule")
}

func TestEnginePicksHighestPriorityRule(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addRule(t, &RoutingRule{
		ID: "low", Name: "low", Priority: 10, Active: true,
		Directive: RoutingDirective{Fallback: FallbackQueue},
	})
	f.addRule(t, &RoutingRule{
		ID: "high", Name: "high", Priority: 80, Active: true,
		Directive: RoutingDirective{Fallback: FallbackEscalate},
	})
	f.addRule(t, &RoutingRule{
		ID: "inactive", Name: "inactive", Priority: 99, Active: false,
		Directive: RoutingDirective{Fallback: FallbackQueue},
	})

	decision, err := f.engine.Route(ctx, injectablesContext("task-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, decision.Outcome)
	assert.Equal(t, "high", decision.RuleID)
}

func TestEngineNeverOversubscribesUnderConcurrentLoad(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	agent := testAgent("solo", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true})
	agent.MaxConcurrentTasks = 2
	f.addAgent(t, agent)

	const callers = 12
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			decision, err := f.engine.Route(ctx, injectablesContext(fmt.Sprintf("task-%d", n)))
			if err != nil {
				t.Errorf("Route: %v", err)
				return
			}
			outcomes <- decision.Outcome
		}(i)
	}
	wg.Wait()
	close(outcomes)

	assigned, queued := 0, 0
	for outcome := range outcomes {
		switch outcome {
		case OutcomeAssigned:
			assigned++
		case OutcomeQueued:
			queued++
		}
	}
	assert.Equal(t, 2, assigned, "exactly the agent's capacity may be assigned")
	assert.Equal(t, callers-2, queued)

	final, err := f.directory.ByID(ctx, "solo")
	require.NoError(t, err)
	assert.Equal(t, 2, final.CurrentTaskCount)
}

func TestEngineDrainAssignsQueuedTasks(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	// Queue two tasks while nobody is available.
	for _, id := range []string{"task-1", "task-2"} {
		decision, err := f.engine.Route(ctx, injectablesContext(id))
		require.NoError(t, err)
		require.Equal(t, OutcomeQueued, decision.Outcome)
	}

	// An agent comes online; the caller sweeps the queue explicitly.
	f.addAgent(t, testAgent("nurse-1", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true}))

	decisions, err := f.engine.Drain(ctx, DefaultQueueID, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	for _, decision := range decisions {
		assert.Equal(t, OutcomeAssigned, decision.Outcome)
		assert.Equal(t, "nurse-1", decision.AgentID)
	}

	length, err := f.queues.Length(ctx, DefaultQueueID)
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestEngineDrainStopsWhenNobodyEligible(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	decision, err := f.engine.Route(ctx, injectablesContext("task-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, decision.Outcome)

	decisions, err := f.engine.Drain(ctx, DefaultQueueID, 10)
	require.NoError(t, err)
	assert.Empty(t, decisions)

	// The task must be back in the queue at its original priority.
	position, err := f.queues.Position(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 1, position)
}

func TestEngineDrainKeepsQueueOrderWhenNobodyEligible(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	for _, id := range []string{"task-1", "task-2"} {
		decision, err := f.engine.Route(ctx, injectablesContext(id))
		require.NoError(t, err)
		require.Equal(t, OutcomeQueued, decision.Outcome)
	}
	before, err := f.queues.Tasks(ctx, DefaultQueueID)
	require.NoError(t, err)

	// Repeated failing sweeps must not rotate equal-priority tasks.
	for i := 0; i < 3; i++ {
		decisions, err := f.engine.Drain(ctx, DefaultQueueID, 10)
		require.NoError(t, err)
		require.Empty(t, decisions)
	}

	after, err := f.queues.Tasks(ctx, DefaultQueueID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "task-1", after[0].TaskID)
	assert.Equal(t, "task-2", after[1].TaskID)
	assert.True(t, after[0].EnqueuedAt.Equal(before[0].EnqueuedAt),
		"requeued head keeps its original enqueue time")
}

func TestEngineAvailableAgentsPassthrough(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addAgent(t, testAgent("a1", "team-a", AvailabilityAvailable))
	f.addAgent(t, testAgent("a2", "team-b", AvailabilityAvailable))

	agents, err := f.engine.AvailableAgents(ctx, "team-a")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].ID)
}
