// Package jobs holds background workers driven by tickers.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/consultly/call-server-go/internal/model"
	"github.com/consultly/call-server-go/internal/registry"
	"github.com/consultly/call-server-go/internal/sse"
)

// RequestArchive persists resolved requests swept out of the registry.
type RequestArchive interface {
	Insert(ctx context.Context, req model.IncomingCallRequest) error
}

// EventPublisher notifies participants about expired requests.
type EventPublisher interface {
	Publish(ctx context.Context, participantRef string, event sse.Event) error
}

// SweepJob periodically expires overdue pending requests, backstopping
// the lazy expiry performed on reads. Expired requests are archived,
// removed from the registry, and announced to both participants.
type SweepJob struct {
	registry  *registry.Registry
	archive   RequestArchive
	publisher EventPublisher
	interval  time.Duration
	done      chan struct{}
}

func NewSweepJob(reg *registry.Registry, archive RequestArchive, publisher EventPublisher, interval time.Duration) *SweepJob {
	return &SweepJob{
		registry:  reg,
		archive:   archive,
		publisher: publisher,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("request sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.done)
	log.Info().Msg("request sweep job stopped")
}

func (j *SweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired := j.registry.SweepExpired()
	for _, req := range expired {
		event := sse.NewEvent(sse.EventRequestExpired, req)
		j.notify(ctx, req.RequesterRef, event)
		j.notify(ctx, req.ProviderRef, event)
	}

	// Archive every terminal request still in the registry. This covers
	// the requests expired above plus any whose archive write failed on
	// an earlier sweep.
	for _, req := range j.registry.Resolved() {
		if err := j.archive.Insert(ctx, req); err != nil {
			log.Error().Err(err).Str("requestId", req.ID).Msg("failed to archive resolved request")
			continue
		}
		j.registry.Remove(req.ID)
	}

	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("swept expired call requests")
	}
}

func (j *SweepJob) notify(ctx context.Context, participantRef string, event sse.Event) {
	if err := j.publisher.Publish(ctx, participantRef, event); err != nil {
		log.Warn().Err(err).Str("participantRef", participantRef).Msg("expiry notification failed")
	}
}
