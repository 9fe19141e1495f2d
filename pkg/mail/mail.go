// Package mail renders notification digests and hands them to a transport.
package mail

import "context"

// Message is one outgoing plain text email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	// Tag groups messages in the provider's statistics.
	Tag string
}

// Sender delivers a message and returns the transport's confirmation,
// which is stored on every delivery the message covered.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}
