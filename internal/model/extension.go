package model

import "time"

// ExtensionRequest is an ephemeral offer to extend a running session.
// ID doubles as the order identifier handed to the payment processor.
// Confirmed flips to true only after the payment proof verifies; the
// session's duration is never touched before that.
type ExtensionRequest struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"sessionId"`
	AdditionalMinutes int       `json:"additionalMinutes"`
	ComputedCostMinor int64     `json:"computedCostMinor"`
	Currency          string    `json:"currency"`
	PaymentRef        string    `json:"paymentRef,omitempty"`
	Confirmed         bool      `json:"confirmed"`
	CreatedAt         time.Time `json:"createdAt"`
}
