package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/httputil"
	"github.com/consultly/call-server-go/internal/middleware"
	"github.com/consultly/call-server-go/internal/model"
	"github.com/consultly/call-server-go/internal/orchestrator"
	"github.com/consultly/call-server-go/internal/registry"
)

// RequestArchiveReader serves resolved requests that have left the
// live registry.
type RequestArchiveReader interface {
	FindByID(ctx context.Context, id string) (*model.IncomingCallRequest, error)
	ListByProvider(ctx context.Context, providerRef string, limit, offset int) ([]model.IncomingCallRequest, error)
}

type CallRequestHandler struct {
	orch    *orchestrator.Orchestrator
	archive RequestArchiveReader
}

func NewCallRequestHandler(orch *orchestrator.Orchestrator, archive RequestArchiveReader) *CallRequestHandler {
	return &CallRequestHandler{orch: orch, archive: archive}
}

type createRequestBody struct {
	ProviderRef     string `json:"providerRef"`
	CallKind        string `json:"callKind"`
	DurationSeconds int    `json:"durationSeconds"`
}

// Create registers a call request from the authenticated participant to
// a provider. Fails when the provider is not effectively online.
func (h *CallRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	req, err := h.orch.CreateRequest(r.Context(), registry.CreateParams{
		Context: model.SessionContext{
			RequesterRef: participant.Ref,
			ProviderRef:  body.ProviderRef,
		},
		CallKind:        model.CallKind(body.CallKind),
		DurationSeconds: body.DurationSeconds,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, req)
}

// Get returns a request from the live registry, falling back to the
// archive once the request has been resolved and swept.
func (h *CallRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	requestID := chi.URLParam(r, "requestID")

	req, err := h.orch.GetRequest(requestID)
	if apperrors.GetCode(err) == apperrors.ErrCodeNotFound {
		archived, archiveErr := h.archive.FindByID(r.Context(), requestID)
		if archiveErr != nil {
			httputil.WriteError(w, apperrors.Database(archiveErr))
			return
		}
		if archived == nil {
			httputil.WriteError(w, err)
			return
		}
		req, err = *archived, nil
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if participant.Ref != req.RequesterRef && participant.Ref != req.ProviderRef {
		httputil.WriteError(w, apperrors.Forbidden("Not a participant of this call request"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, req)
}

// History lists the authenticated provider's resolved requests.
func (h *CallRequestHandler) History(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	limit, offset := pagination(r)

	requests, err := h.archive.ListByProvider(r.Context(), participant.Ref, limit, offset)
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"limit":    limit,
		"offset":   offset,
	})
}

// Accept resolves the request and establishes the call session. Only
// the provider the request was addressed to may accept.
func (h *CallRequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	requestID := chi.URLParam(r, "requestID")

	req, err := h.orch.GetRequest(requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if participant.Ref != req.ProviderRef {
		httputil.WriteError(w, apperrors.Forbidden("Only the provider can accept a call request"))
		return
	}

	snap, err := h.orch.AcceptRequest(r.Context(), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (h *CallRequestHandler) Decline(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	requestID := chi.URLParam(r, "requestID")

	req, err := h.orch.GetRequest(requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if participant.Ref != req.ProviderRef {
		httputil.WriteError(w, apperrors.Forbidden("Only the provider can decline a call request"))
		return
	}

	declined, err := h.orch.DeclineRequest(r.Context(), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, declined)
}
