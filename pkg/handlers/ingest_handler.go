package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/services"
	"github.com/planwatch/planwatch-engine/pkg/services/workqueue"
)

// IngestMeetingRequest for POST /api/meetings
type IngestMeetingRequest struct {
	Meeting models.MeetingRecord  `json:"meeting"`
	Minutes []models.MinuteRecord `json:"minutes"`
}

// IngestMeetingResponse reports how many minutes were queued.
type IngestMeetingResponse struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// Enqueuer accepts background tasks. *workqueue.Queue is one.
type Enqueuer interface {
	Enqueue(task workqueue.Task)
}

// IngestHandler accepts scraped meetings and queues their minutes for
// processing.
type IngestHandler struct {
	queue  Enqueuer
	deps   *services.PipelineDeps
	logger *zap.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(queue Enqueuer, deps *services.PipelineDeps, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{queue: queue, deps: deps, logger: logger}
}

// RegisterRoutes registers the ingest handler's routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/meetings", h.Ingest)
}

// Ingest handles POST /api/meetings. Processing is asynchronous; the
// response only says which minutes were accepted.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if msg := validateMeeting(&req.Meeting); msg != "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_meeting", msg); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var resp IngestMeetingResponse
	meeting := req.Meeting
	for i := range req.Minutes {
		minute := &req.Minutes[i]
		if strings.TrimSpace(minute.CaseSerial) == "" {
			resp.Skipped++
			continue
		}
		h.queue.Enqueue(services.NewProcessMinuteTask(h.deps, &meeting, minute))
		resp.Queued++
	}

	h.logger.Info("Accepted meeting",
		zap.String("url", meeting.URL),
		zap.String("municipality", meeting.Municipality),
		zap.Int("queued", resp.Queued),
		zap.Int("skipped", resp.Skipped))

	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func validateMeeting(m *models.MeetingRecord) string {
	switch {
	case strings.TrimSpace(m.URL) == "":
		return "meeting url is required"
	case strings.TrimSpace(m.Municipality) == "":
		return "meeting municipality is required"
	case !m.CouncilType.IsValid():
		return "unknown council type"
	case m.Start.IsZero():
		return "meeting start is required"
	}
	return ""
}
