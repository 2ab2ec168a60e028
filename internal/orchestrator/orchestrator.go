// Package orchestrator drives the call engine end to end: request
// creation and resolution, session setup against the media provider,
// extension payments, and durable persistence of finalized sessions.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/consultly/call-server-go/internal/audit"
	"github.com/consultly/call-server-go/internal/config"
	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/extension"
	"github.com/consultly/call-server-go/internal/media"
	"github.com/consultly/call-server-go/internal/model"
	"github.com/consultly/call-server-go/internal/payment"
	"github.com/consultly/call-server-go/internal/registry"
	"github.com/consultly/call-server-go/internal/session"
	"github.com/consultly/call-server-go/internal/sse"
)

// RecordStore persists finalized session records.
type RecordStore interface {
	Upsert(ctx context.Context, rec model.SessionRecord) error
}

// RequestArchive keeps the durable trail of resolved call requests.
type RequestArchive interface {
	Insert(ctx context.Context, req model.IncomingCallRequest) error
}

// EventPublisher fans call events out to a participant's streams.
type EventPublisher interface {
	Publish(ctx context.Context, participantRef string, event sse.Event) error
}

type Options struct {
	Terms model.BillingTerms

	// TickInterval for live session timers; 0 disables timers (tests).
	TickInterval time.Duration

	// ConnectTimeout bounds media channel establishment.
	ConnectTimeout time.Duration

	// Persistence retry policy for finalized records.
	PersistMaxAttempts int
	PersistBaseBackoff time.Duration
	PersistMaxBackoff  time.Duration
	PersistTimeout     time.Duration
}

func DefaultOptions(terms model.BillingTerms) Options {
	return Options{
		Terms:              terms,
		TickInterval:       config.TimerTickInterval,
		ConnectTimeout:     config.MediaConnectTimeout,
		PersistMaxAttempts: config.PersistMaxAttempts,
		PersistBaseBackoff: config.PersistBaseBackoff,
		PersistMaxBackoff:  config.PersistMaxBackoff,
		PersistTimeout:     config.PersistTimeout,
	}
}

type Orchestrator struct {
	registry   *registry.Registry
	extensions *extension.Coordinator
	provider   media.Provider
	records    RecordStore
	archive    RequestArchive
	publisher  EventPublisher
	opts       Options

	mu        sync.Mutex
	live      map[string]*session.Session // session id -> session
	byChannel map[string]string           // channel name -> session id

	persistWG sync.WaitGroup
	watchStop chan struct{}
	watchOnce sync.Once
}

func New(
	reg *registry.Registry,
	verifier payment.Verifier,
	provider media.Provider,
	records RecordStore,
	archive RequestArchive,
	publisher EventPublisher,
	opts Options,
) *Orchestrator {
	o := &Orchestrator{
		registry:   reg,
		extensions: extension.NewCoordinator(verifier),
		provider:   provider,
		records:    records,
		archive:    archive,
		publisher:  publisher,
		opts:       opts,
		live:       make(map[string]*session.Session),
		byChannel:  make(map[string]string),
		watchStop:  make(chan struct{}),
	}
	go o.watchFailures()
	return o
}

// CreateRequest registers a presence-gated call request and notifies
// the provider.
func (o *Orchestrator) CreateRequest(ctx context.Context, params registry.CreateParams) (model.IncomingCallRequest, error) {
	req, err := o.registry.Create(ctx, params)
	if err != nil {
		return model.IncomingCallRequest{}, err
	}

	o.publish(ctx, req.ProviderRef, sse.NewEvent(sse.EventRequestCreated, req))
	return req, nil
}

func (o *Orchestrator) GetRequest(id string) (model.IncomingCallRequest, error) {
	return o.registry.Get(id)
}

// DeclineRequest resolves a pending request as declined and archives it.
func (o *Orchestrator) DeclineRequest(ctx context.Context, id string) (model.IncomingCallRequest, error) {
	req, err := o.registry.Decline(id)
	if err != nil {
		return req, err
	}

	if o.archiveRequest(ctx, req) {
		o.registry.Remove(req.ID)
	}
	o.publish(ctx, req.RequesterRef, sse.NewEvent(sse.EventRequestDeclined, req))
	return req, nil
}

// AcceptRequest accepts a pending request and establishes the session:
// archive the accepted request, open the media channel within the
// connect timeout, then start the billing timer. A channel that cannot
// be opened finalizes the session as errored with zero cost.
func (o *Orchestrator) AcceptRequest(ctx context.Context, requestID string) (session.Snapshot, error) {
	req, err := o.registry.Accept(requestID)
	if err != nil {
		return session.Snapshot{}, err
	}

	if o.archiveRequest(ctx, req) {
		o.registry.Remove(req.ID)
	}
	o.publish(ctx, req.RequesterRef, sse.NewEvent(sse.EventRequestAccepted, req))

	sess := session.New(uuid.NewString(), req, o.opts.Terms, o.opts.TickInterval)

	o.mu.Lock()
	o.live[sess.ID()] = sess
	o.byChannel[sess.ChannelName()] = sess.ID()
	o.mu.Unlock()

	o.publishSessionStatus(ctx, sess.Snapshot())

	openCtx, cancel := context.WithTimeout(ctx, o.opts.ConnectTimeout)
	defer cancel()

	handle, err := o.provider.Open(openCtx, sess.ChannelName(), req.CallKind)
	if err != nil {
		snap, _ := sess.Fail(apperrors.ChannelFailed(err))
		o.finalize(sess, snap)
		return snap, apperrors.ChannelFailed(err)
	}

	audit.Log(ctx, audit.Event{
		Type:           audit.EventSessionStart,
		ParticipantRef: req.RequesterRef,
		SessionID:      sess.ID(),
		RequestID:      req.ID,
		Details: map[string]interface{}{
			"providerRef":     req.ProviderRef,
			"callKind":        string(req.CallKind),
			"durationSeconds": req.DurationSeconds,
		},
	})

	sess.AttachChannel(handle)
	if err := sess.MarkConnected(); err != nil {
		// The session was finalized concurrently while the channel opened.
		sess.ReleaseChannel()
		return sess.Snapshot(), err
	}

	o.publishSessionStatus(ctx, sess.Snapshot())
	return sess.Snapshot(), nil
}

// GetSession returns a live session's snapshot.
func (o *Orchestrator) GetSession(id string) (session.Snapshot, error) {
	sess, err := o.liveSession(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// EndSession finalizes a live session. Ending an already finalized
// session returns the existing terminal snapshot.
func (o *Orchestrator) EndSession(ctx context.Context, id, reason string) (session.Snapshot, error) {
	sess, err := o.liveSession(id)
	if err != nil {
		return session.Snapshot{}, err
	}

	snap, changed := sess.End(reason)
	if changed {
		o.finalize(sess, snap)
	}
	return snap, nil
}

// RequestExtension creates a paid extension offer for a live session.
func (o *Orchestrator) RequestExtension(ctx context.Context, sessionID string, additionalMinutes int) (model.ExtensionRequest, error) {
	sess, err := o.liveSession(sessionID)
	if err != nil {
		return model.ExtensionRequest{}, err
	}

	ext, err := o.extensions.Request(sess, additionalMinutes)
	if err != nil {
		return model.ExtensionRequest{}, err
	}

	o.publish(ctx, sess.Snapshot().RequesterRef, sse.NewEvent(sse.EventExtensionOffer, ext))
	return ext, nil
}

// ConfirmExtensionPayment verifies the processor's proof and, on
// success, immediately applies the extension to the session.
func (o *Orchestrator) ConfirmExtensionPayment(ctx context.Context, proof payment.Proof) (session.Snapshot, error) {
	ext, err := o.extensions.ConfirmPayment(ctx, proof)
	if err != nil {
		return session.Snapshot{}, err
	}

	snap, applied, err := o.extensions.Apply(ext.SessionID)
	if err != nil {
		return session.Snapshot{}, err
	}

	audit.Log(ctx, audit.Event{
		Type:           audit.EventExtensionApplied,
		ParticipantRef: snap.RequesterRef,
		SessionID:      snap.ID,
		Details: map[string]interface{}{
			"orderId":           applied.ID,
			"paymentRef":        applied.PaymentRef,
			"additionalMinutes": applied.AdditionalMinutes,
			"costMinor":         applied.ComputedCostMinor,
		},
	})

	o.publish(ctx, snap.RequesterRef, sse.NewEvent(sse.EventExtensionApplied, applied))
	o.publishSessionStatus(ctx, snap)
	return snap, nil
}

// OutstandingExtension returns the unapplied extension for a session.
func (o *Orchestrator) OutstandingExtension(sessionID string) (model.ExtensionRequest, bool) {
	return o.extensions.Outstanding(sessionID)
}

// LiveSessionCount is exposed for health reporting.
func (o *Orchestrator) LiveSessionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.live)
}

// Shutdown finalizes every live session and waits for their records to
// persist, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.watchOnce.Do(func() { close(o.watchStop) })

	o.mu.Lock()
	sessions := make([]*session.Session, 0, len(o.live))
	for _, s := range o.live {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	for _, s := range sessions {
		if snap, changed := s.End(session.EndReasonShutdown); changed {
			o.finalize(s, snap)
		}
	}

	done := make(chan struct{})
	go func() {
		o.persistWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) liveSession(id string) (*session.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.live[id]
	if !ok {
		return nil, apperrors.NotFound("Call session")
	}
	return sess, nil
}

// watchFailures maps asynchronous channel faults back to their sessions.
func (o *Orchestrator) watchFailures() {
	for {
		select {
		case <-o.watchStop:
			return
		case failure, ok := <-o.provider.Failures():
			if !ok {
				return
			}
			o.handleFailure(failure)
		}
	}
}

func (o *Orchestrator) handleFailure(failure media.Failure) {
	o.mu.Lock()
	id, ok := o.byChannel[failure.Channel]
	var sess *session.Session
	if ok {
		sess = o.live[id]
	}
	o.mu.Unlock()

	if sess == nil {
		log.Debug().Str("channel", failure.Channel).Msg("channel fault for unknown session")
		return
	}

	log.Warn().
		Err(failure.Err).
		Str("sessionId", sess.ID()).
		Str("channel", failure.Channel).
		Msg("media channel fault")

	if snap, changed := sess.Fail(apperrors.ChannelFailed(failure.Err)); changed {
		o.finalize(sess, snap)
	}
}

// finalize runs exactly once per session, after the terminal transition:
// drop any outstanding extension, release the channel, notify both
// participants, and persist the record with retries.
func (o *Orchestrator) finalize(sess *session.Session, snap session.Snapshot) {
	o.extensions.Abandon(sess.ID())
	sess.ReleaseChannel()

	o.mu.Lock()
	delete(o.live, sess.ID())
	delete(o.byChannel, sess.ChannelName())
	o.mu.Unlock()

	ctx := context.Background()
	o.publishSessionStatus(ctx, snap)

	eventType := audit.EventSessionEnd
	if snap.Status == model.CallStatusError {
		eventType = audit.EventSessionError
	}
	auditEvent := audit.Event{
		Type:           eventType,
		ParticipantRef: snap.RequesterRef,
		SessionID:      snap.ID,
		Details: map[string]interface{}{
			"endReason":      snap.EndReason,
			"elapsedSeconds": snap.ElapsedSeconds,
		},
	}
	if snap.FinalCostMinor != nil {
		auditEvent.Details["finalCostMinor"] = *snap.FinalCostMinor
	}
	audit.Log(ctx, auditEvent)

	o.persistWG.Add(1)
	go func() {
		defer o.persistWG.Done()
		o.persistWithRetry(snap.Record())
	}()
}

// persistWithRetry writes the finalized record with exponential backoff.
// The upsert is idempotent, so a retry after an ambiguous failure cannot
// double-write. Exhausting the attempts is escalated in the log and the
// record is kept out of band via the log payload.
func (o *Orchestrator) persistWithRetry(rec model.SessionRecord) {
	backoff := o.opts.PersistBaseBackoff

	for attempt := 1; attempt <= o.opts.PersistMaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.PersistTimeout)
		err := o.records.Upsert(ctx, rec)
		cancel()

		if err == nil {
			log.Info().
				Str("sessionId", rec.SessionID).
				Int64("finalCostMinor", rec.FinalCostMinor).
				Int("attempt", attempt).
				Msg("session record persisted")
			return
		}

		log.Warn().
			Err(err).
			Str("sessionId", rec.SessionID).
			Int("attempt", attempt).
			Msg("session record persistence failed")

		if attempt < o.opts.PersistMaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > o.opts.PersistMaxBackoff {
				backoff = o.opts.PersistMaxBackoff
			}
		}
	}

	log.Error().
		Str("sessionId", rec.SessionID).
		Int64("finalCostMinor", rec.FinalCostMinor).
		Str("endReason", rec.EndReason).
		Int("elapsedSeconds", rec.ElapsedSeconds).
		Msg("session record lost after exhausting persistence retries")

	audit.Log(context.Background(), audit.Event{
		Type:           audit.EventPersistFailure,
		ParticipantRef: rec.RequesterRef,
		SessionID:      rec.SessionID,
		Details: map[string]interface{}{
			"finalCostMinor": rec.FinalCostMinor,
			"elapsedSeconds": rec.ElapsedSeconds,
			"endReason":      rec.EndReason,
		},
	})
}

// archiveRequest reports whether the write succeeded. On failure the
// caller must leave the terminal request in the registry so the sweep
// job retries the archive from Resolved().
func (o *Orchestrator) archiveRequest(ctx context.Context, req model.IncomingCallRequest) bool {
	if err := o.archive.Insert(ctx, req); err != nil {
		log.Warn().Err(err).Str("requestId", req.ID).Msg("request archive write failed, leaving request for sweep")
		return false
	}
	return true
}

func (o *Orchestrator) publishSessionStatus(ctx context.Context, snap session.Snapshot) {
	event := sse.NewEvent(sse.EventSessionStatus, snap)
	o.publish(ctx, snap.RequesterRef, event)
	o.publish(ctx, snap.ProviderRef, event)
}

func (o *Orchestrator) publish(ctx context.Context, participantRef string, event sse.Event) {
	if err := o.publisher.Publish(ctx, participantRef, event); err != nil {
		log.Warn().
			Err(err).
			Str("participantRef", participantRef).
			Str("type", event.Type).
			Msg("event publish failed")
	}
}
