// Package session implements the call session aggregate: one billed
// audio/video consultation from channel setup to reconciled finalization.
//
// Each session owns its timer. Ticks, extensions, and the terminal
// transition all serialize on one mutex, so no tick can fire after the
// status becomes ended or error, and the final cost snapshot is taken
// exactly once.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/consultly/call-server-go/internal/billing"
	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/media"
	"github.com/consultly/call-server-go/internal/model"
)

// EndReasonShutdown marks sessions finalized because the server stopped.
const EndReasonShutdown = "shutdown"

type Session struct {
	mu sync.Mutex

	id           string
	requesterRef string
	providerRef  string
	kind         model.CallKind
	channelName  string
	handle       media.Handle

	status model.CallStatus
	terms  model.BillingTerms

	selectedDurationSeconds int
	elapsedSeconds          int
	accruedCostMinor        int64

	finalCostMinor int64
	endReason      string

	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time

	tickInterval time.Duration
	done         chan struct{}
	clock        func() time.Time
}

// Snapshot is a consistent, immutable view of a session.
type Snapshot struct {
	ID           string           `json:"id"`
	RequesterRef string           `json:"requesterRef"`
	ProviderRef  string           `json:"providerRef"`
	CallKind     model.CallKind   `json:"callKind"`
	ChannelName  string           `json:"channelName"`
	Status       model.CallStatus `json:"status"`

	RatePerMinuteMinor int64  `json:"ratePerMinuteMinor"`
	Currency           string `json:"currency"`
	FreeMinutes        int    `json:"freeMinutes"`

	SelectedDurationSeconds int   `json:"selectedDurationSeconds"`
	ElapsedSeconds          int   `json:"elapsedSeconds"`
	AccruedCostMinor        int64 `json:"accruedCostMinor"`

	// Overtime is derived: elapsed time has passed the selected duration
	// while billing continues at the same rate. Not a status.
	Overtime bool `json:"overtime"`

	FinalCostMinor *int64 `json:"finalCostMinor,omitempty"`
	EndReason      string `json:"endReason,omitempty"`

	StartedAt   time.Time  `json:"startedAt"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// New creates a session in connecting state from an accepted request.
func New(id string, req model.IncomingCallRequest, terms model.BillingTerms, tickInterval time.Duration) *Session {
	s := &Session{
		id:                      id,
		requesterRef:            req.RequesterRef,
		providerRef:             req.ProviderRef,
		kind:                    req.CallKind,
		channelName:             req.MediaChannelName,
		status:                  model.CallStatusConnecting,
		terms:                   terms,
		selectedDurationSeconds: req.DurationSeconds,
		tickInterval:            tickInterval,
		done:                    make(chan struct{}),
		clock:                   time.Now,
	}
	s.startedAt = s.clock().UTC()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) ChannelName() string {
	return s.channelName
}

func (s *Session) Terms() model.BillingTerms {
	return s.terms
}

func (s *Session) Status() model.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AttachChannel stores the opaque handle to the opened media channel.
func (s *Session) AttachChannel(h media.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

// ReleaseChannel closes the media channel if one is attached. Handle
// close is idempotent, so repeated release is safe.
func (s *Session) ReleaseChannel() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		if err := h.Close(); err != nil {
			log.Warn().Err(err).Str("sessionId", s.id).Msg("media channel release failed")
		}
	}
}

// MarkConnected transitions connecting -> connected and starts the timer.
func (s *Session) MarkConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.CallStatusConnecting {
		return apperrors.InvalidSessionState(string(s.status))
	}

	s.status = model.CallStatusConnected
	s.connectedAt = s.clock().UTC()

	if s.tickInterval > 0 {
		go s.run()
	}

	log.Info().
		Str("sessionId", s.id).
		Str("channel", s.channelName).
		Int("selectedDurationSeconds", s.selectedDurationSeconds).
		Msg("session connected")

	return nil
}

func (s *Session) run() {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick advances elapsed time by one second and recomputes the accrued
// cost from scratch. A tick that loses the race with End/Fail observes a
// terminal status and does nothing.
func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.CallStatusConnected {
		return
	}

	s.elapsedSeconds++
	s.accruedCostMinor = billing.Cost(s.elapsedSeconds, s.terms)
}

// ExtendDuration adds seconds to the selected duration of a connected
// session. The timer observes the new duration on its next tick.
func (s *Session) ExtendDuration(seconds int) error {
	if seconds <= 0 {
		return apperrors.InvalidInput("seconds", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.CallStatusConnected {
		return apperrors.InvalidSessionState(string(s.status))
	}

	s.selectedDurationSeconds += seconds

	log.Info().
		Str("sessionId", s.id).
		Int("addedSeconds", seconds).
		Int("selectedDurationSeconds", s.selectedDurationSeconds).
		Msg("session duration extended")

	return nil
}

// End finalizes the session. Idempotent: the first call computes the
// final cost and stops the timer; later calls return the existing final
// state with changed=false and never recompute cost.
func (s *Session) End(reason string) (Snapshot, bool) {
	return s.finalize(model.CallStatusEnded, reason)
}

// Fail finalizes the session as errored. Partial sessions are still
// billed for elapsed time, not voided.
func (s *Session) Fail(cause error) (Snapshot, bool) {
	reason := "channel failure"
	if cause != nil {
		reason = cause.Error()
	}
	return s.finalize(model.CallStatusError, reason)
}

func (s *Session) finalize(to model.CallStatus, reason string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return s.snapshotLocked(), false
	}

	close(s.done)

	s.status = to
	s.endReason = reason
	s.finalCostMinor = billing.Cost(s.elapsedSeconds, s.terms)
	s.accruedCostMinor = s.finalCostMinor
	s.endedAt = s.clock().UTC()

	log.Info().
		Str("sessionId", s.id).
		Str("status", string(to)).
		Str("reason", reason).
		Int("elapsedSeconds", s.elapsedSeconds).
		Int64("finalCostMinor", s.finalCostMinor).
		Msg("session finalized")

	return s.snapshotLocked(), true
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:                      s.id,
		RequesterRef:            s.requesterRef,
		ProviderRef:             s.providerRef,
		CallKind:                s.kind,
		ChannelName:             s.channelName,
		Status:                  s.status,
		RatePerMinuteMinor:      s.terms.RatePerMinuteMinor,
		Currency:                s.terms.Currency,
		FreeMinutes:             s.terms.FreeMinutes,
		SelectedDurationSeconds: s.selectedDurationSeconds,
		ElapsedSeconds:          s.elapsedSeconds,
		AccruedCostMinor:        s.accruedCostMinor,
		Overtime:                s.elapsedSeconds >= s.selectedDurationSeconds && s.selectedDurationSeconds > 0,
		StartedAt:               s.startedAt,
	}

	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		snap.ConnectedAt = &t
	}
	if s.status.Terminal() {
		cost := s.finalCostMinor
		snap.FinalCostMinor = &cost
		snap.EndReason = s.endReason
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}

// Record converts a terminal snapshot into its persisted form.
func (snap Snapshot) Record() model.SessionRecord {
	rec := model.SessionRecord{
		SessionID:               snap.ID,
		RequesterRef:            snap.RequesterRef,
		ProviderRef:             snap.ProviderRef,
		CallKind:                snap.CallKind,
		Status:                  snap.Status,
		SelectedDurationSeconds: snap.SelectedDurationSeconds,
		ElapsedSeconds:          snap.ElapsedSeconds,
		Currency:                snap.Currency,
		EndReason:               snap.EndReason,
		StartedAt:               snap.StartedAt,
	}
	if snap.FinalCostMinor != nil {
		rec.FinalCostMinor = *snap.FinalCostMinor
	}
	if snap.EndedAt != nil {
		rec.EndedAt = *snap.EndedAt
	}
	return rec
}
