package models

import "time"

// Delivery links one subscription to one matched minute.
// When the subscription is deleted the row is archived: SubscriptionID is
// cleared and DeletedSubscriptionID/DeletedUserID keep the history.
type Delivery struct {
	ID                    int64      `json:"id"`
	SubscriptionID        *int64     `json:"subscription_id,omitempty"`
	MinuteID              int64      `json:"minute_id"`
	CreatedAt             time.Time  `json:"created_at"`
	SentAt                *time.Time `json:"sent_at,omitempty"`
	MailConfirmation      *string    `json:"mail_confirmation,omitempty"`
	DeletedSubscriptionID *int64     `json:"deleted_subscription_id,omitempty"`
	DeletedUserID         *int64     `json:"deleted_user_id,omitempty"`
}

// IsSent reports whether the delivery has been handed to the transport.
func (d *Delivery) IsSent() bool {
	return d.SentAt != nil
}

// IsOrphaned reports whether the owning subscription was deleted.
func (d *Delivery) IsOrphaned() bool {
	return d.SubscriptionID == nil && d.DeletedSubscriptionID != nil
}

// PendingDelivery is an unsent delivery joined with everything a
// notification needs. Rows are ordered user, meeting, minute.
type PendingDelivery struct {
	DeliveryID     int64
	UserID         int64
	UserEmail      string
	SubscriptionID int64
	Subscription   SubscriptionType
	SubscriptionOn string // human readable criterion
	MeetingID      int64
	MeetingName    string
	MeetingStart   time.Time
	CouncilName    string
	MinuteID       int64
	MinuteSerial   string
	CaseSerial     string
	Headline       string
	Status         *DecisionStatus
}
