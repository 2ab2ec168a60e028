package model

import "time"

// SessionContext carries the participant identities for one engine call.
// Passed explicitly on every operation instead of being read from shared
// state, so concurrent sessions cannot observe each other's identities.
type SessionContext struct {
	RequesterRef string `json:"requesterRef"`
	ProviderRef  string `json:"providerRef"`
}

// IncomingCallRequest is a pending offer of a call to a provider.
// Once the status leaves pending the request is immutable; a pending
// request past ExpiresAt is treated as expired by every reader.
type IncomingCallRequest struct {
	ID               string        `db:"id" json:"id"`
	RequesterRef     string        `db:"requester_ref" json:"requesterRef"`
	ProviderRef      string        `db:"provider_ref" json:"providerRef"`
	CallKind         CallKind      `db:"call_kind" json:"callKind"`
	MediaChannelName string        `db:"media_channel_name" json:"mediaChannelName"`
	DurationSeconds  int           `db:"duration_seconds" json:"durationSeconds"`
	Status           RequestStatus `db:"status" json:"status"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	ExpiresAt        time.Time     `db:"expires_at" json:"expiresAt"`
	ResolvedAt       *time.Time    `db:"resolved_at" json:"resolvedAt,omitempty"`
}

func (r *IncomingCallRequest) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
