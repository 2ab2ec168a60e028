package model

import "time"

// SessionRecord is the finalized outcome of a call session as persisted,
// keyed by session id. Writes are idempotent upserts so retried
// persistence never duplicates a billing record.
type SessionRecord struct {
	SessionID               string     `db:"session_id" json:"sessionId"`
	RequesterRef            string     `db:"requester_ref" json:"requesterRef"`
	ProviderRef             string     `db:"provider_ref" json:"providerRef"`
	CallKind                CallKind   `db:"call_kind" json:"callKind"`
	Status                  CallStatus `db:"status" json:"status"`
	SelectedDurationSeconds int        `db:"selected_duration_seconds" json:"selectedDurationSeconds"`
	ElapsedSeconds          int        `db:"elapsed_seconds" json:"elapsedSeconds"`
	FinalCostMinor          int64      `db:"final_cost_minor" json:"finalCostMinor"`
	Currency                string     `db:"currency" json:"currency"`
	EndReason               string     `db:"end_reason" json:"endReason"`
	StartedAt               time.Time  `db:"started_at" json:"startedAt"`
	EndedAt                 time.Time  `db:"ended_at" json:"endedAt"`
	CreatedAt               time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updatedAt"`
}
