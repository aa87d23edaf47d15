package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthPingTimeout bounds the database check so a stuck pool cannot hang
// the health endpoint.
const healthPingTimeout = 2 * time.Second

// Pinger reports whether the database answers. repository.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and welcome endpoints and the JSON
// fallbacks for unknown routes.
type HealthHandler struct {
	db     Pinger
	now    func() time.Time
	logger *slog.Logger
}

func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, now: time.Now, logger: logger}
}

type healthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// HandleHealth always answers 200; the body says whether the database is
// reachable.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Database:  "healthy",
		Timestamp: h.now().Format(createdAtLayout),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		resp.Status = "unhealthy"
		resp.Database = "error"
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleRoot is the welcome message.
//
// HTTP: GET /
func (h *HealthHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"message": "Welcome to the API"})
}

// HandleNotFound answers unknown routes with the failure envelope.
func (h *HealthHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeFail(w, r, http.StatusNotFound, "Endpoint not found")
}

// HandleMethodNotAllowed answers a known route called with the wrong method.
func (h *HealthHandler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeFail(w, r, http.StatusMethodNotAllowed, "Method not allowed")
}
