// Package payment verifies extension payment proofs issued by the
// external payment processor.
package payment

import (
	"context"

	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/util"
)

// Proof is the processor's evidence that an order was paid: the order
// and payment identifiers plus an HMAC-SHA256 signature over
// "orderId|paymentId" in hex.
type Proof struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

// Verifier checks a payment proof. Verification is deterministic: once
// the proof is received no further round-trips are needed.
//
// expectedAmountMinor is the charge the caller expects the proof to
// settle. Implementations whose proofs carry an amount must reject a
// mismatch. The HMAC scheme signs no amount, so there amount integrity
// rests on the order id binding the proof to a single priced extension.
type Verifier interface {
	Verify(ctx context.Context, proof Proof, expectedAmountMinor int64) error
}

// HMACVerifier validates proofs against a shared signing secret.
type HMACVerifier struct {
	secret string
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

func (v *HMACVerifier) Verify(_ context.Context, proof Proof, _ int64) error {
	if v.secret == "" {
		return apperrors.ProcessorError(nil).WithDetails("payment signature secret is not configured")
	}
	if proof.OrderID == "" || proof.PaymentID == "" || proof.Signature == "" {
		return apperrors.SignatureMismatch()
	}

	expected := util.HmacSHA256(v.secret, proof.OrderID+"|"+proof.PaymentID)
	if !util.ConstantTimeEqual(expected, proof.Signature) {
		return apperrors.SignatureMismatch()
	}
	return nil
}

// Sign produces the signature the processor would attach to a proof.
// Exported for tests and local development tooling.
func Sign(secret, orderID, paymentID string) string {
	return util.HmacSHA256(secret, orderID+"|"+paymentID)
}
