package triage

import (
	"context"
	"regexp"

	"github.com/calibermed/clinic-crm/pkg/logging"
)

// KeywordAssessor is a rule-based Assessor for deployments without the AI
// triage service wired, and for tests. It classifies urgency from message
// keywords and the lead score.
type KeywordAssessor struct {
	logger   *logging.Logger
	urgent   []*regexp.Regexp
	vip      []*regexp.Regexp
	lowValue []*regexp.Regexp
}

// NewKeywordAssessor creates a keyword-based triage assessor.
func NewKeywordAssessor(logger *logging.Logger) *KeywordAssessor {
	if logger == nil {
		logger = logging.Default()
	}
	return &KeywordAssessor{
		logger: logger,
		urgent: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(asap|urgent|emergency|right away|today)\b`),
			regexp.MustCompile(`(?i)\b(pain|swelling|reaction|infection|bleeding)\b`),
			regexp.MustCompile(`(?i)\bcall\s+me\s+(back\s+)?(now|immediately)\b`),
		},
		vip: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(vip|concierge|member(ship)?)\b`),
			regexp.MustCompile(`(?i)\breferred\s+by\s+dr\b`),
		},
		lowValue: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(just (curious|browsing|looking)|price list|how much)\b`),
		},
	}
}

// Assess classifies the contact's urgency and recommends a follow-up window.
func (a *KeywordAssessor) Assess(_ context.Context, input Input) (*Result, error) {
	result := &Result{
		UrgencyLevel:          "normal",
		RoutingRecommendation: "same_day",
		Reasoning:             "no signal beyond defaults",
	}

	switch {
	case matchAny(a.urgent, input.Message):
		result.UrgencyLevel = "high_priority"
		result.RoutingRecommendation = "next_available_slot"
		result.Reasoning = "urgency keywords in message"
	case input.LeadScore >= 80:
		result.UrgencyLevel = "high"
		result.RoutingRecommendation = "next_available_slot"
		result.Reasoning = "high lead score"
	case input.LeadScore >= 50 || input.ExistingRelationship:
		result.UrgencyLevel = "normal"
		result.RoutingRecommendation = "same_day"
		result.Reasoning = "warm lead"
	case matchAny(a.lowValue, input.Message) || input.LeadScore < 20:
		result.UrgencyLevel = "low"
		result.RoutingRecommendation = "nurture_sequence"
		result.Reasoning = "low-intent signals"
	default:
		result.RoutingRecommendation = "next_business_day"
	}

	a.logger.Debug("triage assessed",
		"lead_id", input.LeadID,
		"urgency", result.UrgencyLevel,
		"recommendation", result.RoutingRecommendation,
	)
	return result, nil
}

// IsVIP reports whether the text carries VIP markers.
func (a *KeywordAssessor) IsVIP(text string) bool {
	return matchAny(a.vip, text)
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
