package leads

import "time"

// Lead represents an inbound prospect captured from any channel.
type Lead struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Email                string    `json:"email"`
	Phone                string    `json:"phone"`
	Message              string    `json:"message"`
	Source               string    `json:"source"`
	LeadScore            int       `json:"lead_score"`
	ProcedureInterests   []string  `json:"procedure_interests,omitempty"`
	ExistingRelationship bool      `json:"existing_relationship"`
	CreatedAt            time.Time `json:"created_at"`
}

// CreateLeadRequest represents the request body for creating a lead
type CreateLeadRequest struct {
	Name                 string   `json:"name"`
	Email                string   `json:"email"`
	Phone                string   `json:"phone"`
	Message              string   `json:"message"`
	Source               string   `json:"source"`
	LeadScore            int      `json:"lead_score"`
	ProcedureInterests   []string `json:"procedure_interests"`
	ExistingRelationship bool     `json:"existing_relationship"`
}

// Validate validates the create lead request
func (r *CreateLeadRequest) Validate() error {
	if r.Name == "" {
		return ErrInvalidName
	}
	if r.Email == "" && r.Phone == "" {
		return ErrMissingContact
	}
	if r.LeadScore < 0 || r.LeadScore > 100 {
		return ErrInvalidLeadScore
	}
	return nil
}
