// Package reporting forwards failures that need an operator's attention,
// such as a notification that could not be sent.
package reporting

import (
	"context"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/logging"
)

// Reporter records an error with context fields.
type Reporter interface {
	Report(ctx context.Context, err error, fields ...zap.Field)
}

// LogReporter reports errors to the structured log at error level.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a reporter writing to logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger.Named("reporting")}
}

var _ Reporter = (*LogReporter)(nil)

func (r *LogReporter) Report(_ context.Context, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	r.logger.Error("Reported failure", append(fields, zap.String("error", logging.SanitizeError(err)))...)
}
