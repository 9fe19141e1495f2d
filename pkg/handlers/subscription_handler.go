package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateSubscriptionRequest for POST /api/subscriptions
type CreateSubscriptionRequest struct {
	UserID       int64                   `json:"user_id"`
	Type         models.SubscriptionType `json:"type"`
	CaseID       *int64                  `json:"case_id,omitempty"`
	AddressID    *int64                  `json:"address_id,omitempty"`
	Radius       *int                    `json:"radius,omitempty"`
	EntityID     *int64                  `json:"entity_id,omitempty"`
	SearchQuery  *string                 `json:"search_query,omitempty"`
	CouncilTypes []models.CouncilType    `json:"council_types,omitempty"`
	Immediate    bool                    `json:"immediate"`
}

// SetActiveRequest for PATCH /api/subscriptions/{sid}
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SubscriptionListResponse for GET /api/users/{uid}/subscriptions
type SubscriptionListResponse struct {
	Subscriptions []*models.Subscription `json:"subscriptions"`
	Total         int                    `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// SubscriptionHandler handles subscription HTTP requests.
type SubscriptionHandler struct {
	subscriptions services.SubscriptionService
	logger        *zap.Logger
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(subscriptions services.SubscriptionService, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions, logger: logger}
}

// RegisterRoutes registers the subscription handler's routes on the given mux.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/subscriptions", scope(h.Create))
	mux.HandleFunc("GET /api/subscriptions/{sid}", scope(h.Get))
	mux.HandleFunc("PATCH /api/subscriptions/{sid}", scope(h.SetActive))
	mux.HandleFunc("DELETE /api/subscriptions/{sid}", scope(h.Delete))
	mux.HandleFunc("GET /api/users/{uid}/subscriptions", scope(h.ListByUser))
}

// Create handles POST /api/subscriptions
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.UserID <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_user_id", "user_id is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	sub, err := h.subscriptions.Create(r.Context(), &models.Subscription{
		UserID:       req.UserID,
		Type:         req.Type,
		CaseID:       req.CaseID,
		AddressID:    req.AddressID,
		Radius:       req.Radius,
		EntityID:     req.EntityID,
		SearchQuery:  req.SearchQuery,
		CouncilTypes: req.CouncilTypes,
		Immediate:    req.Immediate,
	})
	if err != nil {
		writeServiceError(w, err, "create_subscription_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: sub}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/subscriptions/{sid}
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSubscriptionID(w, r, h.logger)
	if !ok {
		return
	}

	sub, err := h.subscriptions.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get_subscription_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: sub}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListByUser handles GET /api/users/{uid}/subscriptions
func (h *SubscriptionHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	subs, err := h.subscriptions.ListByUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "list_subscriptions_failed", h.logger)
		return
	}
	if subs == nil {
		subs = []*models.Subscription{}
	}

	response := SubscriptionListResponse{Subscriptions: subs, Total: len(subs)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SetActive handles PATCH /api/subscriptions/{sid}
func (h *SubscriptionHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSubscriptionID(w, r, h.logger)
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.subscriptions.SetActive(r.Context(), id, req.Active); err != nil {
		writeServiceError(w, err, "update_subscription_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/subscriptions/{sid}. Past deliveries of the
// subscription are kept as archived history.
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSubscriptionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.subscriptions.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "delete_subscription_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Subscription deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
