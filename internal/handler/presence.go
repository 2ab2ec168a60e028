package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/httputil"
	"github.com/consultly/call-server-go/internal/middleware"
	"github.com/consultly/call-server-go/internal/model"
	"github.com/consultly/call-server-go/internal/presence"
)

type PresenceHandler struct {
	tracker presence.Tracker
}

func NewPresenceHandler(tracker presence.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

type heartbeatBody struct {
	Status string `json:"status"`
}

// Heartbeat records activity for the authenticated provider. An absent
// status defaults to online.
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())

	var body heartbeatBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Status == "" {
		body.Status = string(model.PresenceOnline)
	}

	status := model.PresenceStatus(body.Status)
	if !status.Valid() {
		httputil.WriteError(w, apperrors.InvalidInput("status", body.Status))
		return
	}

	if err := h.tracker.Observe(r.Context(), participant.Ref, status); err != nil {
		httputil.WriteError(w, apperrors.External("presence tracker", err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// Get returns a provider's effective presence, staleness applied.
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	p, err := h.tracker.Query(r.Context(), providerID)
	if err != nil {
		httputil.WriteError(w, apperrors.External("presence tracker", err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, p)
}
