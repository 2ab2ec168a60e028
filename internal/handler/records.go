package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/httputil"
	"github.com/consultly/call-server-go/internal/middleware"
	"github.com/consultly/call-server-go/internal/repository"
)

const (
	defaultRecordPageSize = 20
	maxRecordPageSize     = 100
)

// RecordsHandler exposes a participant's finalized session history.
type RecordsHandler struct {
	records repository.SessionRecordRepository
}

func NewRecordsHandler(records repository.SessionRecordRepository) *RecordsHandler {
	return &RecordsHandler{records: records}
}

func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	limit, offset := pagination(r)

	records, err := h.records.ListByParticipant(r.Context(), participant.Ref, limit, offset)
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"limit":   limit,
		"offset":  offset,
	})
}

// Get returns a single finalized record the participant took part in.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	rec, err := h.records.FindBySessionID(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}
	if rec == nil {
		httputil.WriteError(w, apperrors.NotFound("Session record"))
		return
	}
	if participant.Ref != rec.RequesterRef && participant.Ref != rec.ProviderRef {
		httputil.WriteError(w, apperrors.Forbidden("Not a participant of this session"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, rec)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultRecordPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxRecordPageSize {
		limit = maxRecordPageSize
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
