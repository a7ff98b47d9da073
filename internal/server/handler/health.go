package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(clk clockwork.Clock, logger *slog.Logger) *HealthHandler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &HealthHandler{clock: clk, logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}
