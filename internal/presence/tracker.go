// Package presence maintains provider availability as a liveness cache.
// It is not a system of record: entries age out via the freshness window
// and a stale entry is reported as offline regardless of stored status.
package presence

import (
	"context"
	"time"

	"github.com/consultly/call-server-go/internal/model"
)

// Tracker answers point-in-time availability queries for providers.
// Updates arrive via Observe from either push or poll sources behind
// the same contract.
type Tracker interface {
	// Observe upserts a provider's status and refreshes its activity timestamp.
	Observe(ctx context.Context, providerID string, status model.PresenceStatus) error

	// Query returns the provider's effective presence: stored status if
	// fresh, offline if the last activity is older than the freshness
	// window or the provider has never been observed.
	Query(ctx context.Context, providerID string) (model.ProviderPresence, error)

	// IsAvailable reports whether the provider's effective status is online.
	IsAvailable(ctx context.Context, providerID string) (bool, error)
}

func effective(p model.ProviderPresence, now time.Time, freshness time.Duration) model.ProviderPresence {
	if p.LastActivityAt.IsZero() || now.Sub(p.LastActivityAt) > freshness {
		p.Status = model.PresenceOffline
	}
	return p
}
