package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/media"
	"github.com/consultly/call-server-go/internal/model"
	"github.com/consultly/call-server-go/internal/payment"
	"github.com/consultly/call-server-go/internal/presence"
	"github.com/consultly/call-server-go/internal/registry"
	"github.com/consultly/call-server-go/internal/sse"
)

const testSecret = "orchestrator-test-secret"

var testTerms = model.BillingTerms{
	RatePerMinuteMinor: 1000,
	Currency:           "INR",
	FreeMinutes:        15,
}

// memStore records upserts and can be made to fail a number of times.
type memStore struct {
	mu        sync.Mutex
	records   map[string]model.SessionRecord
	failTimes int
	attempts  int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]model.SessionRecord)}
}

func (s *memStore) Upsert(_ context.Context, rec model.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failTimes > 0 {
		s.failTimes--
		return errors.New("store unavailable")
	}
	s.records[rec.SessionID] = rec
	return nil
}

func (s *memStore) get(sessionID string) (model.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	return rec, ok
}

type memArchive struct {
	mu       sync.Mutex
	requests map[string]model.IncomingCallRequest
	failErr  error
}

func newMemArchive() *memArchive {
	return &memArchive{requests: make(map[string]model.IncomingCallRequest)}
}

func (a *memArchive) Insert(_ context.Context, req model.IncomingCallRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	if _, ok := a.requests[req.ID]; !ok {
		a.requests[req.ID] = req
	}
	return nil
}

func (a *memArchive) setFailure(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failErr = err
}

func (a *memArchive) contains(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.requests[id]
	return ok
}

type capturingPublisher struct {
	mu     sync.Mutex
	events map[string][]sse.Event
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{events: make(map[string][]sse.Event)}
}

func (p *capturingPublisher) Publish(_ context.Context, participantRef string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[participantRef] = append(p.events[participantRef], event)
	return nil
}

func (p *capturingPublisher) types(participantRef string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events[participantRef] {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	orch      *Orchestrator
	reg       *registry.Registry
	tracker   *presence.MemoryTracker
	provider  *media.LocalProvider
	store     *memStore
	archive   *memArchive
	publisher *capturingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tracker := presence.NewMemoryTracker(45 * time.Second)
	reg := registry.NewRegistry(tracker, time.Minute)
	provider := media.NewLocalProvider()
	store := newMemStore()
	archive := newMemArchive()
	publisher := newCapturingPublisher()

	opts := Options{
		Terms:              testTerms,
		TickInterval:       0, // timers disabled, tests control elapsed time
		ConnectTimeout:     time.Second,
		PersistMaxAttempts: 3,
		PersistBaseBackoff: time.Millisecond,
		PersistMaxBackoff:  5 * time.Millisecond,
		PersistTimeout:     time.Second,
	}

	orch := New(reg, payment.NewHMACVerifier(testSecret), provider, store, archive, publisher, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	return &fixture{
		orch:      orch,
		reg:       reg,
		tracker:   tracker,
		provider:  provider,
		store:     store,
		archive:   archive,
		publisher: publisher,
	}
}

func (f *fixture) createRequest(t *testing.T) model.IncomingCallRequest {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.tracker.Observe(ctx, "prov-1", model.PresenceOnline))
	req, err := f.orch.CreateRequest(ctx, registry.CreateParams{
		Context:         model.SessionContext{RequesterRef: "user-1", ProviderRef: "prov-1"},
		CallKind:        model.CallKindVideo,
		DurationSeconds: 900,
	})
	require.NoError(t, err)
	return req
}

func TestRequestFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("create requires provider presence", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.CreateRequest(ctx, registry.CreateParams{
			Context:         model.SessionContext{RequesterRef: "user-1", ProviderRef: "prov-offline"},
			CallKind:        model.CallKindAudio,
			DurationSeconds: 900,
		})
		assert.Equal(t, apperrors.ErrCodeProviderUnavailable, apperrors.GetCode(err))
	})

	t.Run("create notifies the provider", func(t *testing.T) {
		f := newFixture(t)
		f.createRequest(t)
		assert.Contains(t, f.publisher.types("prov-1"), sse.EventRequestCreated)
	})

	t.Run("decline archives and notifies the requester", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)

		declined, err := f.orch.DeclineRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusDeclined, declined.Status)

		assert.True(t, f.archive.contains(req.ID))
		assert.Contains(t, f.publisher.types("user-1"), sse.EventRequestDeclined)

		// Removed from the live registry after archival.
		_, err = f.orch.GetRequest(req.ID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("archive failure keeps the declined request for the sweep", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)
		f.archive.setFailure(errors.New("store down"))

		declined, err := f.orch.DeclineRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusDeclined, declined.Status)
		assert.False(t, f.archive.contains(req.ID))

		// The terminal request stays in the registry until archived.
		resolved := f.reg.Resolved()
		require.Len(t, resolved, 1)
		assert.Equal(t, req.ID, resolved[0].ID)
		assert.Equal(t, model.RequestStatusDeclined, resolved[0].Status)
	})
}

func TestAcceptRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("accept opens the channel and connects the session", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)

		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CallStatusConnected, snap.Status)
		assert.Equal(t, req.MediaChannelName, snap.ChannelName)
		assert.Equal(t, 900, snap.SelectedDurationSeconds)
		assert.Equal(t, 1, f.orch.LiveSessionCount())

		assert.True(t, f.archive.contains(req.ID))
		assert.Contains(t, f.publisher.types("user-1"), sse.EventRequestAccepted)
		assert.Contains(t, f.publisher.types("prov-1"), sse.EventSessionStatus)
	})

	t.Run("archive failure keeps the accepted request for the sweep", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)
		f.archive.setFailure(errors.New("store down"))

		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CallStatusConnected, snap.Status)

		resolved := f.reg.Resolved()
		require.Len(t, resolved, 1)
		assert.Equal(t, req.ID, resolved[0].ID)
		assert.Equal(t, model.RequestStatusAccepted, resolved[0].Status)
	})

	t.Run("accepted request is gone from the registry", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)

		_, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)

		_, err = f.orch.AcceptRequest(ctx, req.ID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("channel open failure finalizes the session as errored", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)
		f.provider.SetOpenError(errors.New("transport down"))

		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		assert.Equal(t, apperrors.ErrCodeChannelFailed, apperrors.GetCode(err))
		assert.Equal(t, model.CallStatusError, snap.Status)
		require.NotNil(t, snap.FinalCostMinor)
		assert.Equal(t, int64(0), *snap.FinalCostMinor)
		assert.Equal(t, 0, f.orch.LiveSessionCount())

		assert.Eventually(t, func() bool {
			rec, ok := f.store.get(snap.ID)
			return ok && rec.Status == model.CallStatusError
		}, time.Second, 5*time.Millisecond)
	})
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()

	t.Run("end persists the record and removes the session", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)
		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)

		ended, err := f.orch.EndSession(ctx, snap.ID, "completed")
		require.NoError(t, err)
		assert.Equal(t, model.CallStatusEnded, ended.Status)
		assert.Equal(t, 0, f.orch.LiveSessionCount())

		assert.Eventually(t, func() bool {
			rec, ok := f.store.get(snap.ID)
			return ok && rec.Status == model.CallStatusEnded && rec.EndReason == "completed"
		}, time.Second, 5*time.Millisecond)

		_, err = f.orch.GetSession(snap.ID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("persistence retries transient store failures", func(t *testing.T) {
		f := newFixture(t)
		f.store.failTimes = 2

		req := f.createRequest(t)
		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)

		_, err = f.orch.EndSession(ctx, snap.ID, "completed")
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			_, ok := f.store.get(snap.ID)
			return ok
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 3, f.store.attempts)
	})
}

func TestChannelFault(t *testing.T) {
	ctx := context.Background()

	t.Run("asynchronous fault fails the session", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)
		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)

		f.provider.Fail(snap.ChannelName, errors.New("network drop"))

		assert.Eventually(t, func() bool {
			rec, ok := f.store.get(snap.ID)
			return ok && rec.Status == model.CallStatusError
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 0, f.orch.LiveSessionCount())
	})
}

func TestExtensionFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed payment extends the live session", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)
		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)

		ext, err := f.orch.RequestExtension(ctx, snap.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), ext.ComputedCostMinor)
		assert.Contains(t, f.publisher.types("user-1"), sse.EventExtensionOffer)

		proof := payment.Proof{
			OrderID:   ext.ID,
			PaymentID: "pay-1",
			Signature: payment.Sign(testSecret, ext.ID, "pay-1"),
		}
		extended, err := f.orch.ConfirmExtensionPayment(ctx, proof)
		require.NoError(t, err)
		assert.Equal(t, 900+600, extended.SelectedDurationSeconds)
		assert.Contains(t, f.publisher.types("user-1"), sse.EventExtensionApplied)

		_, outstanding := f.orch.OutstandingExtension(snap.ID)
		assert.False(t, outstanding)
	})

	t.Run("invalid proof leaves the session duration unchanged", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)
		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)

		ext, err := f.orch.RequestExtension(ctx, snap.ID, 10)
		require.NoError(t, err)

		proof := payment.Proof{
			OrderID:   ext.ID,
			PaymentID: "pay-1",
			Signature: "bogus",
		}
		_, err = f.orch.ConfirmExtensionPayment(ctx, proof)
		assert.Equal(t, apperrors.ErrCodeSignatureMismatch, apperrors.GetCode(err))

		current, err := f.orch.GetSession(snap.ID)
		require.NoError(t, err)
		assert.Equal(t, 900, current.SelectedDurationSeconds)
	})

	t.Run("ending a session abandons its outstanding extension", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)
		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)

		ext, err := f.orch.RequestExtension(ctx, snap.ID, 10)
		require.NoError(t, err)

		_, err = f.orch.EndSession(ctx, snap.ID, "completed")
		require.NoError(t, err)

		proof := payment.Proof{
			OrderID:   ext.ID,
			PaymentID: "pay-1",
			Signature: payment.Sign(testSecret, ext.ID, "pay-1"),
		}
		_, err = f.orch.ConfirmExtensionPayment(ctx, proof)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()

	t.Run("live sessions are finalized with the shutdown reason", func(t *testing.T) {
		f := newFixture(t)
		req := f.createRequest(t)
		snap, err := f.orch.AcceptRequest(ctx, req.ID)
		require.NoError(t, err)

		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		require.NoError(t, f.orch.Shutdown(shutdownCtx))

		rec, ok := f.store.get(snap.ID)
		require.True(t, ok, "record persisted before shutdown returned")
		assert.Equal(t, model.CallStatusEnded, rec.Status)
		assert.Equal(t, "shutdown", rec.EndReason)
	})
}
