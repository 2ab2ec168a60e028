package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/consultly/call-server-go/internal/model"

	redisclient "github.com/consultly/call-server-go/internal/redis"
)

// RedisTracker stores presence in Redis hashes with a TTL equal to the
// freshness window, so entries for silent providers simply vanish and
// read back as offline. Heartbeats refresh both fields and TTL.
type RedisTracker struct {
	redis     *redisclient.Client
	freshness time.Duration
	clock     func() time.Time
}

func NewRedisTracker(client *redisclient.Client, freshness time.Duration) *RedisTracker {
	return &RedisTracker{
		redis:     client,
		freshness: freshness,
		clock:     time.Now,
	}
}

func (t *RedisTracker) Observe(ctx context.Context, providerID string, status model.PresenceStatus) error {
	key := redisclient.PresenceKey(providerID)
	now := t.clock().UTC()

	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key, "status", string(status), "last_activity_ms", now.UnixMilli())
	pipe.Expire(ctx, key, t.freshness)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("observe presence: %w", err)
	}
	return nil
}

func (t *RedisTracker) Query(ctx context.Context, providerID string) (model.ProviderPresence, error) {
	key := redisclient.PresenceKey(providerID)

	fields, err := t.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return model.ProviderPresence{}, fmt.Errorf("query presence: %w", err)
	}

	offline := model.ProviderPresence{ProviderID: providerID, Status: model.PresenceOffline}
	if len(fields) == 0 {
		return offline, nil
	}

	ms, err := strconv.ParseInt(fields["last_activity_ms"], 10, 64)
	if err != nil {
		return offline, nil
	}

	p := model.ProviderPresence{
		ProviderID:     providerID,
		Status:         model.PresenceStatus(fields["status"]),
		LastActivityAt: time.UnixMilli(ms).UTC(),
	}
	if !p.Status.Valid() {
		return offline, nil
	}

	// The key TTL already enforces the window, but clock skew between
	// writers makes the explicit check worth keeping.
	return effective(p, t.clock().UTC(), t.freshness), nil
}

func (t *RedisTracker) IsAvailable(ctx context.Context, providerID string) (bool, error) {
	p, err := t.Query(ctx, providerID)
	if err != nil {
		return false, err
	}
	return p.Status == model.PresenceOnline, nil
}
