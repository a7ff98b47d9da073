package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/chainauction/internal/service"
)

// SessionService defines the methods that the session handler requires from
// the service layer.
type SessionService interface {
	Session() service.SessionView
	Connect(ctx context.Context) (service.SessionView, error)
	Disconnect(ctx context.Context) (service.SessionView, error)
}

// SessionHandler serves the wallet session endpoints.
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler with the given service and logger.
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logHandler(logger, "session"),
	}
}

// GetSession returns the current wallet session.
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Session())
}

// Connect runs the wallet connect flow.
// POST /api/session/connect
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Connect(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "connect", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Disconnect asks the wallet to drop its granted accounts.
// POST /api/session/disconnect
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Disconnect(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "disconnect", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
