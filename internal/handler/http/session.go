package http

import (
	"log/slog"
	"net/http"

	"github.com/nerochristian/robloxkeys/internal/repository"
	"github.com/nerochristian/robloxkeys/pkg/httputil"
	"github.com/nerochristian/robloxkeys/pkg/validator"
)

// SessionHandler manages the user's stored gateway session token.
type SessionHandler struct {
	sessions repository.SessionStore
	logger   *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(sessions repository.SessionStore, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// SaveSessionRequest is the JSON request body for storing a session token.
type SaveSessionRequest struct {
	Token string `json:"token" validate:"required"`
}

// Save handles PUT /api/v1/session
func (h *SessionHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveSessionRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.sessions.Save(r.Context(), userID(r), req.Token); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "saved"}})
}

// Delete handles DELETE /api/v1/session
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), userID(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "cleared"}})
}
