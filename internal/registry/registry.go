// Package registry holds pending incoming call requests until they are
// accepted, declined, or expired. Status transitions are compare-and-set
// under one lock, so user actions and background sweeps racing on the
// same request resolve to exactly one terminal state.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/consultly/call-server-go/internal/errors"
	"github.com/consultly/call-server-go/internal/model"
	"github.com/consultly/call-server-go/internal/presence"
)

type Registry struct {
	mu       sync.Mutex
	requests map[string]*model.IncomingCallRequest

	tracker presence.Tracker
	ttl     time.Duration
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewRegistry(tracker presence.Tracker, ttl time.Duration) *Registry {
	return &Registry{
		requests: make(map[string]*model.IncomingCallRequest),
		tracker:  tracker,
		ttl:      ttl,
		clock:    time.Now,
	}
}

type CreateParams struct {
	Context         model.SessionContext
	CallKind        model.CallKind
	DurationSeconds int
}

// Create registers a pending request for the provider, gated on the
// provider being effectively online right now.
func (r *Registry) Create(ctx context.Context, params CreateParams) (model.IncomingCallRequest, error) {
	if params.Context.RequesterRef == "" {
		return model.IncomingCallRequest{}, apperrors.MissingRequired("requesterRef")
	}
	if params.Context.ProviderRef == "" {
		return model.IncomingCallRequest{}, apperrors.MissingRequired("providerRef")
	}
	if !params.CallKind.Valid() {
		return model.IncomingCallRequest{}, apperrors.InvalidInput("callKind", string(params.CallKind))
	}
	if params.DurationSeconds <= 0 {
		return model.IncomingCallRequest{}, apperrors.InvalidInput("durationSeconds", "must be positive")
	}

	available, err := r.tracker.IsAvailable(ctx, params.Context.ProviderRef)
	if err != nil {
		return model.IncomingCallRequest{}, apperrors.External("presence tracker", err)
	}
	if !available {
		return model.IncomingCallRequest{}, apperrors.ProviderUnavailable(params.Context.ProviderRef)
	}

	now := r.clock().UTC()
	req := &model.IncomingCallRequest{
		ID:               uuid.NewString(),
		RequesterRef:     params.Context.RequesterRef,
		ProviderRef:      params.Context.ProviderRef,
		CallKind:         params.CallKind,
		DurationSeconds:  params.DurationSeconds,
		Status:           model.RequestStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(r.ttl),
	}
	req.MediaChannelName = fmt.Sprintf("call:%s", req.ID)

	r.mu.Lock()
	r.requests[req.ID] = req
	r.mu.Unlock()

	log.Info().
		Str("requestId", req.ID).
		Str("providerRef", req.ProviderRef).
		Str("callKind", string(req.CallKind)).
		Time("expiresAt", req.ExpiresAt).
		Msg("call request created")

	return *req, nil
}

// Get returns the request, applying lazy expiry: a pending request past
// its TTL is transitioned to expired before being returned.
func (r *Registry) Get(id string) (model.IncomingCallRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return model.IncomingCallRequest{}, apperrors.NotFound("Call request")
	}
	r.expireLocked(req)
	return *req, nil
}

// Accept transitions a pending request to accepted. This is the only
// valid trigger for creating a call session.
func (r *Registry) Accept(id string) (model.IncomingCallRequest, error) {
	return r.resolve(id, model.RequestStatusAccepted)
}

// Decline transitions a pending request to declined.
func (r *Registry) Decline(id string) (model.IncomingCallRequest, error) {
	return r.resolve(id, model.RequestStatusDeclined)
}

func (r *Registry) resolve(id string, to model.RequestStatus) (model.IncomingCallRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return model.IncomingCallRequest{}, apperrors.NotFound("Call request")
	}

	if r.expireLocked(req) {
		return *req, apperrors.RequestExpired()
	}
	if req.Status.Terminal() {
		return *req, apperrors.RequestAlreadyResolved()
	}

	now := r.clock().UTC()
	req.Status = to
	req.ResolvedAt = &now

	log.Info().
		Str("requestId", req.ID).
		Str("status", string(to)).
		Msg("call request resolved")

	return *req, nil
}

// SweepExpired transitions every pending request past its TTL to expired
// and returns the requests transitioned by this call. Safe under
// concurrent sweeps: each request expires exactly once.
func (r *Registry) SweepExpired() []model.IncomingCallRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []model.IncomingCallRequest
	for _, req := range r.requests {
		if r.expireLocked(req) {
			expired = append(expired, *req)
		}
	}
	return expired
}

// Resolved returns terminal requests still held in the registry, in no
// particular order. These are awaiting archival and removal.
func (r *Registry) Resolved() []model.IncomingCallRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var resolved []model.IncomingCallRequest
	for _, req := range r.requests {
		if req.Status.Terminal() {
			resolved = append(resolved, *req)
		}
	}
	return resolved
}

// Remove drops a terminal request from the registry, after archival.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req, ok := r.requests[id]; ok && req.Status.Terminal() {
		delete(r.requests, id)
	}
}

// expireLocked is the compare-and-set from pending to expired. Returns
// true only for the call that performed the transition.
func (r *Registry) expireLocked(req *model.IncomingCallRequest) bool {
	if req.Status != model.RequestStatusPending || !req.ExpiredAt(r.clock().UTC()) {
		return false
	}

	now := r.clock().UTC()
	req.Status = model.RequestStatusExpired
	req.ResolvedAt = &now

	log.Info().
		Str("requestId", req.ID).
		Str("providerRef", req.ProviderRef).
		Msg("call request expired")

	return true
}
