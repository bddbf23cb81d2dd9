package routing

import (
	"context"
	"sync"
	"time"
)

// Directory is the registry of agent profiles. The reference implementation
// is in-memory; durable implementations expose the identical contract.
type Directory interface {
	Upsert(ctx context.Context, profile *AgentProfile) error
	Remove(ctx context.Context, id string) error
	All(ctx context.Context) ([]*AgentProfile, error)
	Clear(ctx context.Context) error
	Available(ctx context.Context, teamID string) ([]*AgentProfile, error)
	ByID(ctx context.Context, id string) (*AgentProfile, error)
	BySkill(ctx context.Context, skillID string, min Proficiency) ([]*AgentProfile, error)
	SetAvailability(ctx context.Context, id string, availability Availability) error
	SetTaskCount(ctx context.Context, id string, count int) error

	// Acquire atomically increments the agent's task count if the agent is
	// available and below capacity. Returns false (not an error) when the
	// agent is unknown, unavailable, or at capacity.
	Acquire(ctx context.Context, id string) (bool, error)

	// Release decrements the agent's task count, never below zero.
	Release(ctx context.Context, id string) error
}

// MemoryDirectory stores agent profiles in memory behind a single mutex.
type MemoryDirectory struct {
	mu     sync.RWMutex
	agents map[string]*AgentProfile
	order  []string
}

// NewMemoryDirectory creates an empty in-memory agent directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		agents: make(map[string]*AgentProfile),
	}
}

// Upsert inserts or fully replaces the profile with the same id.
func (d *MemoryDirectory) Upsert(_ context.Context, profile *AgentProfile) error {
	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	stored := cloneProfile(profile)
	if existing, ok := d.agents[profile.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		d.order = append(d.order, profile.ID)
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	}
	stored.UpdatedAt = now
	d.agents[profile.ID] = stored
	return nil
}

// Remove deletes the profile. Removing an unknown id is a no-op.
func (d *MemoryDirectory) Remove(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.agents[id]; !ok {
		return nil
	}
	delete(d.agents, id)
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

// All returns every profile in registration order.
func (d *MemoryDirectory) All(_ context.Context) ([]*AgentProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	agents := make([]*AgentProfile, 0, len(d.order))
	for _, id := range d.order {
		agents = append(agents, cloneProfile(d.agents[id]))
	}
	return agents, nil
}

// Clear removes every profile.
func (d *MemoryDirectory) Clear(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.agents = make(map[string]*AgentProfile)
	d.order = nil
	return nil
}

// Available returns agents with availability "available", optionally
// filtered to a team. An empty teamID matches every team.
func (d *MemoryDirectory) Available(_ context.Context, teamID string) ([]*AgentProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var agents []*AgentProfile
	for _, id := range d.order {
		agent := d.agents[id]
		if agent.Availability != AvailabilityAvailable {
			continue
		}
		if teamID != "" && agent.TeamID != teamID {
			continue
		}
		agents = append(agents, cloneProfile(agent))
	}
	return agents, nil
}

// ByID returns the profile or ErrAgentNotFound.
func (d *MemoryDirectory) ByID(_ context.Context, id string) (*AgentProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	agent, ok := d.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return cloneProfile(agent), nil
}

// BySkill returns agents with an active entry for skillID at or above the
// minimum proficiency. An empty minimum accepts any active entry.
func (d *MemoryDirectory) BySkill(_ context.Context, skillID string, min Proficiency) ([]*AgentProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var agents []*AgentProfile
	for _, id := range d.order {
		agent := d.agents[id]
		if agent.HasSkill(skillID, min) {
			agents = append(agents, cloneProfile(agent))
		}
	}
	return agents, nil
}

// SetAvailability updates the agent's availability. Unknown ids are a no-op.
func (d *MemoryDirectory) SetAvailability(_ context.Context, id string, availability Availability) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[id]
	if !ok {
		return nil
	}
	agent.Availability = availability
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

// SetTaskCount updates the agent's current task count. Unknown ids are a no-op.
func (d *MemoryDirectory) SetTaskCount(_ context.Context, id string, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[id]
	if !ok {
		return nil
	}
	if count < 0 {
		count = 0
	}
	agent.CurrentTaskCount = count
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

// Acquire is the compare-and-increment used during assignment: it succeeds
// only while the agent is available and below capacity, so two concurrent
// assignments can never push an agent past MaxConcurrentTasks.
func (d *MemoryDirectory) Acquire(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[id]
	if !ok {
		return false, nil
	}
	if agent.Availability != AvailabilityAvailable {
		return false, nil
	}
	if agent.CurrentTaskCount >= agent.MaxConcurrentTasks {
		return false, nil
	}
	agent.CurrentTaskCount++
	agent.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Release decrements the agent's task count, never below zero.
func (d *MemoryDirectory) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[id]
	if !ok {
		return nil
	}
	if agent.CurrentTaskCount > 0 {
		agent.CurrentTaskCount--
	}
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneProfile(agent *AgentProfile) *AgentProfile {
	clone := *agent
	clone.Skills = append([]AgentSkill(nil), agent.Skills...)
	clone.Languages = append([]string(nil), agent.Languages...)
	return &clone
}
