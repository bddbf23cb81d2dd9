package routing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RuleStore is the registry of routing rules.
type RuleStore interface {
	Upsert(ctx context.Context, rule *RoutingRule) error
	Remove(ctx context.Context, id string) error
	All(ctx context.Context) ([]*RoutingRule, error)
	Clear(ctx context.Context) error
	Active(ctx context.Context) ([]*RoutingRule, error)
	ByID(ctx context.Context, id string) (*RoutingRule, error)
	Matching(ctx context.Context, query RuleConditions) ([]*RoutingRule, error)
}

// MemoryRuleStore stores routing rules in memory behind a single mutex.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]*RoutingRule
	order []string
}

// NewMemoryRuleStore creates an empty in-memory rule store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{
		rules: make(map[string]*RoutingRule),
	}
}

// Upsert inserts or fully replaces the rule with the same id.
func (s *MemoryRuleStore) Upsert(_ context.Context, rule *RoutingRule) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneRule(rule)
	if existing, ok := s.rules[rule.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		s.order = append(s.order, rule.ID)
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	}
	stored.UpdatedAt = now
	s.rules[rule.ID] = stored
	return nil
}

// Remove deletes the rule. Removing an unknown id is a no-op.
func (s *MemoryRuleStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return nil
	}
	delete(s.rules, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// All returns every rule in insertion order.
func (s *MemoryRuleStore) All(_ context.Context) ([]*RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]*RoutingRule, 0, len(s.order))
	for _, id := range s.order {
		rules = append(rules, cloneRule(s.rules[id]))
	}
	return rules, nil
}

// Clear removes every rule.
func (s *MemoryRuleStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = make(map[string]*RoutingRule)
	s.order = nil
	return nil
}

// Active returns active rules sorted by descending priority. Equal
// priorities keep insertion order.
func (s *MemoryRuleStore) Active(ctx context.Context) ([]*RoutingRule, error) {
	s.mu.RLock()
	var rules []*RoutingRule
	for _, id := range s.order {
		if rule := s.rules[id]; rule.Active {
			rules = append(rules, cloneRule(rule))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules, nil
}

// ByID returns the rule or ErrRuleNotFound.
func (s *MemoryRuleStore) ByID(_ context.Context, id string) (*RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return cloneRule(rule), nil
}

// Matching returns active rules whose conditions intersect the query on
// every dimension the query constrains. A rule that leaves a dimension
// unconstrained passes that dimension; a rule with entirely empty
// conditions matches every query.
func (s *MemoryRuleStore) Matching(ctx context.Context, query RuleConditions) ([]*RoutingRule, error) {
	active, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}

	var rules []*RoutingRule
	for _, rule := range active {
		if ruleMatches(rule, query) {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func ruleMatches(rule *RoutingRule, query RuleConditions) bool {
	if len(query.ProcedureTypes) > 0 && len(rule.Conditions.ProcedureTypes) > 0 {
		if !intersects(rule.Conditions.ProcedureTypes, query.ProcedureTypes) {
			return false
		}
	}
	if len(query.UrgencyLevels) > 0 && len(rule.Conditions.UrgencyLevels) > 0 {
		if !intersects(rule.Conditions.UrgencyLevels, query.UrgencyLevels) {
			return false
		}
	}
	if len(query.Channels) > 0 && len(rule.Conditions.Channels) > 0 {
		if !intersects(rule.Conditions.Channels, query.Channels) {
			return false
		}
	}
	return true
}

func intersects[T comparable](a, b []T) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func cloneRule(rule *RoutingRule) *RoutingRule {
	clone := *rule
	clone.Conditions.ProcedureTypes = append([]string(nil), rule.Conditions.ProcedureTypes...)
	clone.Conditions.UrgencyLevels = append([]Urgency(nil), rule.Conditions.UrgencyLevels...)
	clone.Conditions.Channels = append([]Channel(nil), rule.Conditions.Channels...)
	clone.Directive.SkillRequirements = append([]SkillRequirement(nil), rule.Directive.SkillRequirements...)
	return &clone
}
