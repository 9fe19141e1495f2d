package models

import "time"

// Case is a planning or permit matter that minutes refer to across meetings.
// Status and Updated mirror the chronologically last processed minute.
type Case struct {
	ID        int64           `json:"id"`
	Serial    string          `json:"serial"`
	CouncilID int64           `json:"council_id"`
	Address   string          `json:"address,omitempty"`
	AddressID *int64          `json:"address_id,omitempty"`
	Status    *DecisionStatus `json:"status,omitempty"`
	Updated   *time.Time      `json:"updated,omitempty"`
}

// Minute is one agenda item discussed at one meeting.
type Minute struct {
	ID        int64           `json:"id"`
	CaseID    int64           `json:"case_id"`
	MeetingID int64           `json:"meeting_id"`
	Serial    string          `json:"serial"`
	Headline  string          `json:"headline"`
	Inquiry   string          `json:"inquiry"`
	Remarks   string          `json:"remarks"`
	Status    *DecisionStatus `json:"status,omitempty"`
	Lemmas    string          `json:"lemmas,omitempty"`
}

// Span is a half-open [Start, End) range of character offsets.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// EntityMention records where an entity name occurred in a minute's inquiry.
type EntityMention struct {
	MinuteID int64 `json:"minute_id"`
	EntityID int64 `json:"entity_id"`
	Start    int   `json:"start"`
	End      int   `json:"end"`
}

// Response is a reply or review attached to a minute.
type Response struct {
	MinuteID int64  `json:"minute_id"`
	Headline string `json:"headline"`
	Contents string `json:"contents"`
}

// Attachment is a document linked from a minute.
type Attachment struct {
	MinuteID int64  `json:"minute_id"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Label    string `json:"label"`
	Length   int64  `json:"length"`
}
