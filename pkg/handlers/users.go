package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/services"
)

// RegisterUserRequest is the request body for POST /api/users.
type RegisterUserRequest struct {
	Email string `json:"email"`
}

// UpdateUserRequest is the request body for PATCH /api/users/{uid}.
type UpdateUserRequest struct {
	Active bool `json:"active"`
}

// UsersHandler handles user-related HTTP requests.
type UsersHandler struct {
	userService services.UserService
	logger      *zap.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(userService services.UserService, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		userService: userService,
		logger:      logger,
	}
}

// RegisterRoutes registers the users handler's routes on the given mux.
func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/users", scope(h.Register))
	mux.HandleFunc("GET /api/users/{uid}", scope(h.Get))
	mux.HandleFunc("PATCH /api/users/{uid}", scope(h.Update))
}

// Register handles POST /api/users
// Registering an existing email returns the existing user.
func (h *UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	user, err := h.userService.Register(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, err, "register_user_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: user}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/users/{uid}
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	user, err := h.userService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get_user_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: user}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PATCH /api/users/{uid}
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.userService.SetActive(r.Context(), id, req.Active); err != nil {
		writeServiceError(w, err, "update_user_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
