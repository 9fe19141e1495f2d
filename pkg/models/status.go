package models

// ============================================================================
// Decision Status
// ============================================================================

// DecisionStatus is the outcome of a minute as classified from its remarks.
type DecisionStatus string

const (
	StatusApproved     DecisionStatus = "approved"
	StatusDenied       DecisionStatus = "denied"
	StatusDelayed      DecisionStatus = "delayed"
	StatusNoComment    DecisionStatus = "no_comment"
	StatusPositive     DecisionStatus = "positive"
	StatusNegative     DecisionStatus = "negative"
	StatusReferred     DecisionStatus = "referred"
	StatusDismissed    DecisionStatus = "dismissed"
	StatusAcknowledged DecisionStatus = "acknowledged"
)

// StatusInfo is presentation metadata for a decision status.
type StatusInfo struct {
	Slug  string
	Label string
	Color string
}

var statusInfo = map[DecisionStatus]StatusInfo{
	StatusApproved:     {Slug: "samthykkt", Label: "Samþykkt", Color: "green"},
	StatusDenied:       {Slug: "synjad", Label: "Synjað", Color: "red"},
	StatusDelayed:      {Slug: "frestad", Label: "Frestað", Color: "yellow"},
	StatusNoComment:    {Slug: "engin-athugasemd", Label: "Ekki gerð athugasemd", Color: "green"},
	StatusPositive:     {Slug: "jakvaett", Label: "Jákvætt", Color: "green"},
	StatusNegative:     {Slug: "neikvaett", Label: "Neikvætt", Color: "red"},
	StatusReferred:     {Slug: "visad-til", Label: "Vísað til", Color: "blue"},
	StatusDismissed:    {Slug: "visad-fra", Label: "Vísað frá", Color: "gray"},
	StatusAcknowledged: {Slug: "lagt-fram", Label: "Lagt fram", Color: "gray"},
}

// ValidDecisionStatuses contains all valid decision status values.
var ValidDecisionStatuses = []DecisionStatus{
	StatusApproved,
	StatusDenied,
	StatusDelayed,
	StatusNoComment,
	StatusPositive,
	StatusNegative,
	StatusReferred,
	StatusDismissed,
	StatusAcknowledged,
}

// IsValid reports whether s is one of the known statuses.
func (s DecisionStatus) IsValid() bool {
	_, ok := statusInfo[s]
	return ok
}

// Info returns the presentation metadata for s.
func (s DecisionStatus) Info() StatusInfo {
	return statusInfo[s]
}

// Label returns the Icelandic label for s, or the raw value if unknown.
func (s DecisionStatus) Label() string {
	if info, ok := statusInfo[s]; ok {
		return info.Label
	}
	return string(s)
}
