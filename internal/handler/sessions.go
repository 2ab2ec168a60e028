package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/httputil"
	"github.com/consultly/call-server-go/internal/middleware"
	"github.com/consultly/call-server-go/internal/orchestrator"
	"github.com/consultly/call-server-go/internal/session"
)

type SessionHandler struct {
	orch *orchestrator.Orchestrator
}

func NewSessionHandler(orch *orchestrator.Orchestrator) *SessionHandler {
	return &SessionHandler{orch: orch}
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.authorizedSession(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

type endSessionBody struct {
	Reason string `json:"reason"`
}

// End finalizes the session. Either participant may hang up.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	snap, err := h.authorizedSession(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var body endSessionBody
	// Body is optional; an empty body means a plain hang-up.
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "completed"
	}

	ended, err := h.orch.EndSession(r.Context(), snap.ID, body.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ended)
}

type extensionBody struct {
	AdditionalMinutes int `json:"additionalMinutes"`
}

// RequestExtension creates a paid extension offer. Only the paying
// requester may ask for more time.
func (h *SessionHandler) RequestExtension(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	snap, err := h.authorizedSession(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if participant.Ref != snap.RequesterRef {
		httputil.WriteError(w, apperrors.Forbidden("Only the requester can extend the session"))
		return
	}

	var body extensionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	ext, err := h.orch.RequestExtension(r.Context(), snap.ID, body.AdditionalMinutes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, ext)
}

// GetExtension returns the outstanding extension for a session, if any.
func (h *SessionHandler) GetExtension(w http.ResponseWriter, r *http.Request) {
	snap, err := h.authorizedSession(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	ext, ok := h.orch.OutstandingExtension(snap.ID)
	if !ok {
		httputil.WriteError(w, apperrors.NotFound("Extension request"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ext)
}

func (h *SessionHandler) authorizedSession(r *http.Request) (session.Snapshot, error) {
	participant := middleware.GetParticipant(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	snap, err := h.orch.GetSession(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	if participant.Ref != snap.RequesterRef && participant.Ref != snap.ProviderRef {
		return session.Snapshot{}, apperrors.Forbidden("Not a participant of this session")
	}
	return snap, nil
}
