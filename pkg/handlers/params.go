package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// ParseSubscriptionID extracts the subscription ID from the request path.
// Expects path parameter: sid
func ParseSubscriptionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseID(w, r, "sid", "invalid_subscription_id", "Invalid subscription ID", logger)
}

// ParseUserID extracts the user ID from the request path.
// Expects path parameter: uid
func ParseUserID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseID(w, r, "uid", "invalid_user_id", "Invalid user ID", logger)
}

// parseID parses a positive integer path parameter, writing a 400 when it
// is malformed.
func parseID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(pathParam), 10, 64)
	if err != nil || id <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter. ok is false when
// the parameter is present but malformed.
func queryInt(r *http.Request, name string, def int) (value int, ok bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
