package model

import "time"

// ProviderPresence is the last known availability of a provider.
// Entries are never deleted; consumers treat a LastActivityAt older
// than the freshness window as offline regardless of stored status.
type ProviderPresence struct {
	ProviderID     string         `json:"providerId"`
	Status         PresenceStatus `json:"status"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
}
