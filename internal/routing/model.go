package routing

import "time"

// Proficiency is an ordinal skill-strength level.
type Proficiency string

const (
	ProficiencyBasic        Proficiency = "basic"
	ProficiencyIntermediate Proficiency = "intermediate"
	ProficiencyAdvanced     Proficiency = "advanced"
	ProficiencyExpert       Proficiency = "expert"
)

var proficiencyRank = map[Proficiency]int{
	ProficiencyBasic:        1,
	ProficiencyIntermediate: 2,
	ProficiencyAdvanced:     3,
	ProficiencyExpert:       4,
}

// Rank returns the ordinal position of the proficiency (basic=1 .. expert=4).
// Unknown values rank below basic.
func (p Proficiency) Rank() int {
	return proficiencyRank[p]
}

// AtLeast reports whether p meets or exceeds the minimum proficiency.
// An empty minimum is satisfied by any known proficiency.
func (p Proficiency) AtLeast(min Proficiency) bool {
	if min == "" {
		return p.Rank() > 0
	}
	return p.Rank() >= min.Rank()
}

// Availability is an agent's current working state.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityOffline   Availability = "offline"
)

// AgentSkill is one skill entry on an agent profile. Inactive entries
// never participate in matching.
type AgentSkill struct {
	SkillID     string      `json:"skill_id"`
	Proficiency Proficiency `json:"proficiency"`
	Active      bool        `json:"active"`
}

// AgentProfile describes a worker capable of handling routed tasks.
type AgentProfile struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Email              string       `json:"email"`
	Phone              string       `json:"phone"`
	Role               string       `json:"role"`
	Availability       Availability `json:"availability"`
	Skills             []AgentSkill `json:"skills"`
	Languages          []string     `json:"languages"`
	CurrentTaskCount   int          `json:"current_task_count"`
	MaxConcurrentTasks int          `json:"max_concurrent_tasks"`
	TeamID             string       `json:"team_id,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Skill returns the agent's entry for skillID, or nil if absent.
func (a *AgentProfile) Skill(skillID string) *AgentSkill {
	for i := range a.Skills {
		if a.Skills[i].SkillID == skillID {
			return &a.Skills[i]
		}
	}
	return nil
}

// HasSkill reports whether the agent has an active entry for skillID at
// or above the minimum proficiency.
func (a *AgentProfile) HasSkill(skillID string, min Proficiency) bool {
	s := a.Skill(skillID)
	return s != nil && s.Active && s.Proficiency.AtLeast(min)
}

// LoadRatio is CurrentTaskCount / MaxConcurrentTasks, clamped to [0, 1].
// Agents with no declared capacity are treated as fully loaded.
func (a *AgentProfile) LoadRatio() float64 {
	if a.MaxConcurrentTasks <= 0 {
		return 1
	}
	ratio := float64(a.CurrentTaskCount) / float64(a.MaxConcurrentTasks)
	if ratio > 1 {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	return ratio
}

// Channel identifies the contact channel a routing request arrived on.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVoice    Channel = "voice"
)

// Urgency is the resolved urgency level of a routing request.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// SkillRequirement names a skill and the minimum proficiency demanded of it.
type SkillRequirement struct {
	SkillID        string      `json:"skill_id"`
	MinProficiency Proficiency `json:"min_proficiency"`
}

// FallbackBehavior is the action taken when no eligible agent is found.
type FallbackBehavior string

const (
	FallbackQueue    FallbackBehavior = "queue"
	FallbackReassign FallbackBehavior = "reassign"
	FallbackEscalate FallbackBehavior = "escalate"
)

// RuleConditions constrain which requests a routing rule applies to.
// An empty dimension matches anything.
type RuleConditions struct {
	ProcedureTypes []string  `json:"procedure_types,omitempty"`
	UrgencyLevels  []Urgency `json:"urgency_levels,omitempty"`
	Channels       []Channel `json:"channels,omitempty"`
}

// RoutingDirective is the action half of a routing rule.
type RoutingDirective struct {
	Strategy            string             `json:"strategy"`
	SkillRequirements   []SkillRequirement `json:"skill_requirements,omitempty"`
	Fallback            FallbackBehavior   `json:"fallback"`
	MaxQueueTimeSeconds int                `json:"max_queue_time_seconds"`
}

// RoutingRule is a prioritized conditional policy mapping request context
// to skill requirements and fallback behavior.
type RoutingRule struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Priority   int              `json:"priority"`
	Active     bool             `json:"active"`
	Conditions RuleConditions   `json:"conditions"`
	Directive  RoutingDirective `json:"directive"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// RoutingContext is a routing request: everything the dispatch engine
// needs to pick an agent or queue the task.
type RoutingContext struct {
	TaskID               string             `json:"task_id"`
	Channel              Channel            `json:"channel"`
	Urgency              Urgency            `json:"urgency"`
	ProcedureType        string             `json:"procedure_type"`
	RequiredSkills       []SkillRequirement `json:"required_skills,omitempty"`
	PreferredSkills      []SkillRequirement `json:"preferred_skills,omitempty"`
	PreferAgentIDs       []string           `json:"prefer_agent_ids,omitempty"`
	TeamID               string             `json:"team_id,omitempty"`
	Priority             int                `json:"priority"`
	SLADeadlineMinutes   int                `json:"sla_deadline_minutes"`
	ExistingRelationship bool               `json:"existing_relationship"`
}

// Outcome classifies a routing decision.
type Outcome string

const (
	OutcomeAssigned  Outcome = "assigned"
	OutcomeQueued    Outcome = "queued"
	OutcomeEscalated Outcome = "escalated"
)

// RoutingDecision is the immutable result of one routing request.
type RoutingDecision struct {
	ID            string    `json:"id"`
	Outcome       Outcome   `json:"outcome"`
	AgentID       string    `json:"agent_id,omitempty"`
	Score         float64   `json:"score"`
	Reasoning     string    `json:"reasoning"`
	RuleID        string    `json:"rule_id,omitempty"`
	QueueID       string    `json:"queue_id,omitempty"`
	QueuePosition int       `json:"queue_position,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// QueuedTask is a task waiting in a priority queue for an eligible agent.
type QueuedTask struct {
	TaskID     string         `json:"task_id"`
	QueueID    string         `json:"queue_id"`
	Priority   int            `json:"priority"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Context    RoutingContext `json:"context"`
}
