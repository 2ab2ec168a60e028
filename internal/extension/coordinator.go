// Package extension negotiates mid-call paid extensions. An extension
// moves through request -> payment confirmation -> apply; the session's
// duration is only ever mutated after the payment proof verifies.
package extension

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/consultly/call-server-go/internal/billing"
	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/model"
	"github.com/consultly/call-server-go/internal/payment"
	"github.com/consultly/call-server-go/internal/session"
)

type pendingExtension struct {
	ext  *model.ExtensionRequest
	sess *session.Session
}

// Coordinator tracks at most one outstanding extension per session.
type Coordinator struct {
	mu       sync.Mutex
	verifier payment.Verifier

	bySession map[string]*pendingExtension
	byOrder   map[string]string // extension/order id -> session id
	clock     func() time.Time
}

func NewCoordinator(verifier payment.Verifier) *Coordinator {
	return &Coordinator{
		verifier:  verifier,
		bySession: make(map[string]*pendingExtension),
		byOrder:   make(map[string]string),
		clock:     time.Now,
	}
}

// Request creates an extension offer for a connected session. The
// extension id doubles as the order id handed to the payment processor.
func (c *Coordinator) Request(sess *session.Session, additionalMinutes int) (model.ExtensionRequest, error) {
	if additionalMinutes <= 0 {
		return model.ExtensionRequest{}, apperrors.InvalidInput("additionalMinutes", "must be positive")
	}
	if sess.Status() != model.CallStatusConnected {
		return model.ExtensionRequest{}, apperrors.InvalidSessionState(string(sess.Status()))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.bySession[sess.ID()]; exists {
		return model.ExtensionRequest{}, apperrors.ExtensionInProgress()
	}

	terms := sess.Terms()
	ext := &model.ExtensionRequest{
		ID:                uuid.NewString(),
		SessionID:         sess.ID(),
		AdditionalMinutes: additionalMinutes,
		ComputedCostMinor: billing.ExtensionCost(additionalMinutes, terms),
		Currency:          terms.Currency,
		CreatedAt:         c.clock().UTC(),
	}

	c.bySession[sess.ID()] = &pendingExtension{ext: ext, sess: sess}
	c.byOrder[ext.ID] = sess.ID()

	log.Info().
		Str("sessionId", sess.ID()).
		Str("orderId", ext.ID).
		Int("additionalMinutes", additionalMinutes).
		Int64("computedCostMinor", ext.ComputedCostMinor).
		Msg("extension requested")

	return *ext, nil
}

// ConfirmPayment verifies the processor's proof for the outstanding
// extension identified by the proof's order id. On any failure the
// extension stays unconfirmed and the session is untouched; the caller
// may retry with a corrected proof.
func (c *Coordinator) ConfirmPayment(ctx context.Context, proof payment.Proof) (model.ExtensionRequest, error) {
	c.mu.Lock()
	sessionID, ok := c.byOrder[proof.OrderID]
	var p *pendingExtension
	if ok {
		p = c.bySession[sessionID]
	}
	c.mu.Unlock()

	if p == nil {
		return model.ExtensionRequest{}, apperrors.NotFound("Extension request")
	}

	// The live timer keeps ticking while this verification runs; billing
	// is never paused by an in-flight extension.
	if err := c.verifier.Verify(ctx, proof, p.ext.ComputedCostMinor); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", sessionID).
			Str("orderId", proof.OrderID).
			Msg("extension payment rejected")
		return model.ExtensionRequest{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check: the extension may have been abandoned while verifying.
	p, ok = c.bySession[sessionID]
	if !ok || p.ext.ID != proof.OrderID {
		return model.ExtensionRequest{}, apperrors.NotFound("Extension request")
	}

	p.ext.Confirmed = true
	p.ext.PaymentRef = proof.PaymentID

	log.Info().
		Str("sessionId", sessionID).
		Str("orderId", proof.OrderID).
		Str("paymentRef", proof.PaymentID).
		Msg("extension payment confirmed")

	return *p.ext, nil
}

// Apply mutates the session's selected duration by the confirmed
// extension. Only callable after ConfirmPayment succeeded for the same
// extension; the ticking timer observes the new duration immediately.
func (c *Coordinator) Apply(sessionID string) (session.Snapshot, model.ExtensionRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.bySession[sessionID]
	if !ok {
		return session.Snapshot{}, model.ExtensionRequest{}, apperrors.NotFound("Extension request")
	}
	if !p.ext.Confirmed {
		return session.Snapshot{}, model.ExtensionRequest{}, apperrors.PaymentNotConfirmed()
	}

	if err := p.sess.ExtendDuration(p.ext.AdditionalMinutes * 60); err != nil {
		// Session ended while the payment was in flight; drop the
		// extension so the money can be reconciled out of band.
		delete(c.bySession, sessionID)
		delete(c.byOrder, p.ext.ID)
		log.Error().
			Err(err).
			Str("sessionId", sessionID).
			Str("orderId", p.ext.ID).
			Str("paymentRef", p.ext.PaymentRef).
			Msg("confirmed extension could not be applied")
		return session.Snapshot{}, *p.ext, err
	}

	applied := *p.ext
	delete(c.bySession, sessionID)
	delete(c.byOrder, p.ext.ID)

	return p.sess.Snapshot(), applied, nil
}

// Outstanding returns the unapplied extension for a session, if any.
func (c *Coordinator) Outstanding(sessionID string) (model.ExtensionRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.bySession[sessionID]
	if !ok {
		return model.ExtensionRequest{}, false
	}
	return *p.ext, true
}

// Abandon drops any outstanding extension for a session. Called when a
// session terminates so a stale order cannot confirm later.
func (c *Coordinator) Abandon(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.bySession[sessionID]; ok {
		delete(c.bySession, sessionID)
		delete(c.byOrder, p.ext.ID)
	}
}
