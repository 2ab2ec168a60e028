package presence

import (
	"context"
	"sync"
	"time"

	"github.com/consultly/call-server-go/internal/model"
)

// MemoryTracker is an in-process Tracker. Entries are never deleted;
// staleness alone makes a provider effectively offline.
type MemoryTracker struct {
	mu        sync.RWMutex
	entries   map[string]model.ProviderPresence
	freshness time.Duration
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewMemoryTracker(freshness time.Duration) *MemoryTracker {
	return &MemoryTracker{
		entries:   make(map[string]model.ProviderPresence),
		freshness: freshness,
		clock:     time.Now,
	}
}

func (t *MemoryTracker) Observe(_ context.Context, providerID string, status model.PresenceStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[providerID] = model.ProviderPresence{
		ProviderID:     providerID,
		Status:         status,
		LastActivityAt: t.clock().UTC(),
	}
	return nil
}

func (t *MemoryTracker) Query(_ context.Context, providerID string) (model.ProviderPresence, error) {
	t.mu.RLock()
	p, ok := t.entries[providerID]
	t.mu.RUnlock()

	if !ok {
		return model.ProviderPresence{ProviderID: providerID, Status: model.PresenceOffline}, nil
	}
	return effective(p, t.clock().UTC(), t.freshness), nil
}

func (t *MemoryTracker) IsAvailable(ctx context.Context, providerID string) (bool, error) {
	p, err := t.Query(ctx, providerID)
	if err != nil {
		return false, err
	}
	return p.Status == model.PresenceOnline, nil
}
