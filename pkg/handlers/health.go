package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/config"
	"github.com/planwatch/planwatch-engine/pkg/services/workqueue"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports whether the service can reach its database, along
// with the background queue counters. Task failures do not degrade status.
type HealthResponse struct {
	Status   string           `json:"status"`
	Database string           `json:"database"`
	Queue    *workqueue.Stats `json:"queue,omitempty"`
}

// Pinger checks a dependency is reachable. *pgxpool.Pool is one.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatter reports background queue counters. *workqueue.Queue is one.
type QueueStatter interface {
	Stats() workqueue.Stats
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	db     Pinger
	queue  QueueStatter
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and queue may be nil.
func NewHealthHandler(cfg *config.Config, db Pinger, queue QueueStatter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, queue: queue, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok", Database: "unchecked"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("Database health check failed", zap.Error(err))
			response.Status, response.Database = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			response.Database = "ok"
		}
	}

	if h.queue != nil {
		stats := h.queue.Stats()
		response.Queue = &stats
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "planwatch-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
