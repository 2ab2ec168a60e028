package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/model"
	"github.com/consultly/call-server-go/internal/presence"
)

func onlineTracker(t *testing.T, providerRef string) presence.Tracker {
	t.Helper()
	tr := presence.NewMemoryTracker(45 * time.Second)
	require.NoError(t, tr.Observe(context.Background(), providerRef, model.PresenceOnline))
	return tr
}

func testParams() CreateParams {
	return CreateParams{
		Context:         model.SessionContext{RequesterRef: "user-1", ProviderRef: "prov-1"},
		CallKind:        model.CallKindVideo,
		DurationSeconds: 900,
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending request with TTL", func(t *testing.T) {
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)

		req, err := r.Create(ctx, testParams())
		require.NoError(t, err)

		assert.NotEmpty(t, req.ID)
		assert.Equal(t, model.RequestStatusPending, req.Status)
		assert.Equal(t, "call:"+req.ID, req.MediaChannelName)
		assert.Equal(t, req.CreatedAt.Add(60*time.Second), req.ExpiresAt)
	})

	t.Run("fails when provider is not online", func(t *testing.T) {
		tr := presence.NewMemoryTracker(45 * time.Second)
		require.NoError(t, tr.Observe(ctx, "prov-1", model.PresenceAway))
		r := NewRegistry(tr, 60*time.Second)

		_, err := r.Create(ctx, testParams())
		assert.Equal(t, apperrors.ErrCodeProviderUnavailable, apperrors.GetCode(err))
	})

	t.Run("fails when provider has never been observed", func(t *testing.T) {
		r := NewRegistry(presence.NewMemoryTracker(45*time.Second), 60*time.Second)

		_, err := r.Create(ctx, testParams())
		assert.Equal(t, apperrors.ErrCodeProviderUnavailable, apperrors.GetCode(err))
	})

	t.Run("validates input", func(t *testing.T) {
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)

		p := testParams()
		p.Context.ProviderRef = ""
		_, err := r.Create(ctx, p)
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))

		p = testParams()
		p.CallKind = "hologram"
		_, err = r.Create(ctx, p)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

		p = testParams()
		p.DurationSeconds = 0
		_, err = r.Create(ctx, p)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})
}

func TestAcceptDecline(t *testing.T) {
	ctx := context.Background()

	t.Run("accept transitions pending to accepted", func(t *testing.T) {
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)
		created, err := r.Create(ctx, testParams())
		require.NoError(t, err)

		accepted, err := r.Accept(created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusAccepted, accepted.Status)
		require.NotNil(t, accepted.ResolvedAt)
	})

	t.Run("decline transitions pending to declined", func(t *testing.T) {
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)
		created, err := r.Create(ctx, testParams())
		require.NoError(t, err)

		declined, err := r.Decline(created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusDeclined, declined.Status)
	})

	t.Run("accept after decline fails with AlreadyResolved", func(t *testing.T) {
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)
		created, err := r.Create(ctx, testParams())
		require.NoError(t, err)

		_, err = r.Decline(created.ID)
		require.NoError(t, err)

		_, err = r.Accept(created.ID)
		assert.Equal(t, apperrors.ErrCodeRequestAlreadyResolved, apperrors.GetCode(err))
	})

	t.Run("accept after TTL fails with Expired and never accepts", func(t *testing.T) {
		// Request created at t=0 with TTL 60s, accept attempted at t=61.
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)

		start := time.Now()
		now := start
		r.clock = func() time.Time { return now }

		created, err := r.Create(ctx, testParams())
		require.NoError(t, err)

		now = start.Add(61 * time.Second)
		_, err = r.Accept(created.ID)
		assert.Equal(t, apperrors.ErrCodeRequestExpired, apperrors.GetCode(err))

		got, err := r.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusExpired, got.Status)
	})

	t.Run("unknown request id fails with NotFound", func(t *testing.T) {
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)
		_, err := r.Accept("nope")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestGetLazyExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("reading an overdue pending request reports it expired", func(t *testing.T) {
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)

		start := time.Now()
		now := start
		r.clock = func() time.Time { return now }

		created, err := r.Create(ctx, testParams())
		require.NoError(t, err)

		now = start.Add(2 * time.Minute)
		got, err := r.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusExpired, got.Status)
	})
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("sweeps only overdue pending requests", func(t *testing.T) {
		tr := presence.NewMemoryTracker(45 * time.Second)
		require.NoError(t, tr.Observe(ctx, "prov-1", model.PresenceOnline))
		r := NewRegistry(tr, 60*time.Second)

		start := time.Now()
		now := start
		r.clock = func() time.Time { return now }

		stale, err := r.Create(ctx, testParams())
		require.NoError(t, err)

		now = start.Add(30 * time.Second)
		fresh, err := r.Create(ctx, testParams())
		require.NoError(t, err)

		now = start.Add(70 * time.Second)
		expired := r.SweepExpired()

		require.Len(t, expired, 1)
		assert.Equal(t, stale.ID, expired[0].ID)
		assert.Equal(t, model.RequestStatusExpired, expired[0].Status)

		got, err := r.Get(fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusPending, got.Status)
	})

	t.Run("concurrent sweeps expire each request exactly once", func(t *testing.T) {
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)

		start := time.Now()
		now := start
		r.clock = func() time.Time { return now }

		created, err := r.Create(ctx, testParams())
		require.NoError(t, err)
		now = start.Add(2 * time.Minute)

		const sweepers = 8
		results := make(chan int, sweepers)
		var wg sync.WaitGroup
		for i := 0; i < sweepers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- len(r.SweepExpired())
			}()
		}
		wg.Wait()
		close(results)

		total := 0
		for n := range results {
			total += n
		}
		assert.Equal(t, 1, total, "exactly one sweep call should win the transition")

		got, err := r.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusExpired, got.Status)
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("removes terminal requests only", func(t *testing.T) {
		r := NewRegistry(onlineTracker(t, "prov-1"), 60*time.Second)

		created, err := r.Create(ctx, testParams())
		require.NoError(t, err)

		r.Remove(created.ID)
		_, err = r.Get(created.ID)
		assert.NoError(t, err, "pending request must not be removed")

		_, err = r.Decline(created.ID)
		require.NoError(t, err)

		r.Remove(created.ID)
		_, err = r.Get(created.ID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}
