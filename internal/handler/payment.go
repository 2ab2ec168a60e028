package handler

import (
	"encoding/json"
	"net/http"

	"github.com/consultly/call-server-go/internal/audit"
	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/httputil"
	"github.com/consultly/call-server-go/internal/orchestrator"
	"github.com/consultly/call-server-go/internal/payment"
)

// PaymentHandler receives payment processor webhooks. The proof's
// signature is the authentication; no participant token is involved.
type PaymentHandler struct {
	orch *orchestrator.Orchestrator
}

func NewPaymentHandler(orch *orchestrator.Orchestrator) *PaymentHandler {
	return &PaymentHandler{orch: orch}
}

func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var proof payment.Proof
	if err := json.NewDecoder(r.Body).Decode(&proof); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid webhook body"))
		return
	}
	if proof.OrderID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("orderId"))
		return
	}

	snap, err := h.orch.ConfirmExtensionPayment(r.Context(), proof)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeSignatureMismatch {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventPaymentRejected,
				Details: map[string]interface{}{"orderId": proof.OrderID},
			})
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, snap)
}
