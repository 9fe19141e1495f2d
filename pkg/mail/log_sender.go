package mail

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of sending them.
// Used for local development.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a sender that only logs.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("mail")}
}

var _ Sender = (*LogSender)(nil)

func (s *LogSender) Send(_ context.Context, msg *Message) (string, error) {
	confirmation := "log-" + uuid.New().String()
	s.logger.Info("Mail not sent (log provider)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("tag", msg.Tag),
		zap.String("confirmation", confirmation),
		zap.String("body", msg.TextBody))
	return confirmation, nil
}
