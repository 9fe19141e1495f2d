package database

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// AcquireFunc returns a context carrying a database scope and its cleanup.
type AcquireFunc func(ctx context.Context) (context.Context, func(), error)

// retryAfterSeconds is advertised when the pool cannot hand out a connection.
const retryAfterSeconds = "5"

// WithScope creates middleware that gives each request a pooled connection,
// released after the handler returns. An exhausted or closed pool answers
// 503 with Retry-After. A request whose client already left is dropped
// without logging.
func WithScope(acquire AcquireFunc, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx, cleanup, err := acquire(r.Context())
			if err != nil {
				if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
					return
				}
				logger.Error("Failed to acquire database connection",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
				w.Header().Set("Retry-After", retryAfterSeconds)
				writeError(w, http.StatusServiceUnavailable, "database_error", "Database connection error")
				return
			}
			defer cleanup()

			next(w, r.WithContext(ctx))
		}
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
