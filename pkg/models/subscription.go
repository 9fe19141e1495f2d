package models

import "time"

// SubscriptionType selects which criterion of a Subscription is meaningful.
type SubscriptionType string

const (
	SubscriptionCase    SubscriptionType = "case"
	SubscriptionAddress SubscriptionType = "address"
	SubscriptionRadius  SubscriptionType = "radius"
	SubscriptionEntity  SubscriptionType = "entity"
	SubscriptionSearch  SubscriptionType = "search"
)

// Subscription is a user's saved interest criterion.
// An empty CouncilTypes means every council, including councils added later.
type Subscription struct {
	ID           int64            `json:"id"`
	UserID       int64            `json:"user_id"`
	Type         SubscriptionType `json:"type"`
	CaseID       *int64           `json:"case_id,omitempty"`
	AddressID    *int64           `json:"address_id,omitempty"`
	Radius       *int             `json:"radius,omitempty"` // meters
	EntityID     *int64           `json:"entity_id,omitempty"`
	SearchQuery  *string          `json:"search_query,omitempty"`
	SearchLemmas *string          `json:"search_lemmas,omitempty"`
	CouncilTypes []CouncilType    `json:"council_types,omitempty"`
	Active       bool             `json:"active"`
	Immediate    bool             `json:"immediate"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Validate checks that the fields required by Type are present.
func (s *Subscription) Validate() bool {
	switch s.Type {
	case SubscriptionCase:
		return s.CaseID != nil
	case SubscriptionAddress:
		return s.AddressID != nil
	case SubscriptionRadius:
		return s.AddressID != nil && s.Radius != nil && *s.Radius > 0
	case SubscriptionEntity:
		return s.EntityID != nil
	case SubscriptionSearch:
		return s.SearchQuery != nil && *s.SearchQuery != ""
	}
	return false
}
