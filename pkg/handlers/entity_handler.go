package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/services"
)

const maxSearchLimit = 50

// EntitySearchResponse for GET /api/entities/search
type EntitySearchResponse struct {
	Entities []*models.Entity `json:"entities"`
	Total    int              `json:"total"`
}

// EntityHandler serves entity lookups.
type EntityHandler struct {
	resolver services.EntityResolver
	logger   *zap.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(resolver services.EntityResolver, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{resolver: resolver, logger: logger}
}

// RegisterRoutes registers the entity handler's routes on the given mux.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/entities/search", scope(h.Search))
}

// Search handles GET /api/entities/search?q=...&limit=...
func (h *EntityHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_query", "Query parameter q is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok || limit < 0 || limit > maxSearchLimit {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 50"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	entities, err := h.resolver.FuzzySearch(r.Context(), query, limit)
	if err != nil {
		writeServiceError(w, err, "entity_search_failed", h.logger)
		return
	}
	if entities == nil {
		entities = []*models.Entity{}
	}

	response := EntitySearchResponse{Entities: entities, Total: len(entities)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
