// Package triage bridges the external intent-assessment component and the
// dispatch engine: it turns a triage result for an incoming contact into a
// routing request with priority, SLA deadline, and skill requirements.
package triage

import "context"

// Input describes an incoming contact to assess.
type Input struct {
	LeadID               string   `json:"lead_id"`
	LeadScore            int      `json:"lead_score"`
	Channel              string   `json:"channel"`
	Message              string   `json:"message"`
	ProcedureInterests   []string `json:"procedure_interests,omitempty"`
	ExistingRelationship bool     `json:"existing_relationship"`
}

// Result is what the external triage component reports back.
type Result struct {
	UrgencyLevel          string `json:"urgency_level"`
	RoutingRecommendation string `json:"routing_recommendation"`
	SuggestedOwner        string `json:"suggested_owner,omitempty"`
	Reasoning             string `json:"reasoning"`
}

// Assessor is the external triage collaborator. Failures are the caller's
// concern; the adapter consumes it synchronously.
type Assessor interface {
	Assess(ctx context.Context, input Input) (*Result, error)
	IsVIP(text string) bool
}
