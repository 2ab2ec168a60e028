package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/consultly/call-server-go/internal/model"
)

// LocalProvider is an in-process Provider used in development and tests.
// Channels open instantly; faults are injected with Fail.
type LocalProvider struct {
	mu       sync.Mutex
	open     map[string]*localHandle
	failures chan Failure
	openErr  error
}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{
		open:     make(map[string]*localHandle),
		failures: make(chan Failure, 16),
	}
}

func (p *LocalProvider) Open(ctx context.Context, channel string, kind model.CallKind) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.openErr != nil {
		return nil, p.openErr
	}

	h := &localHandle{channel: channel, provider: p}
	p.open[channel] = h

	log.Debug().Str("channel", channel).Str("kind", string(kind)).Msg("local media channel opened")
	return h, nil
}

func (p *LocalProvider) Failures() <-chan Failure {
	return p.failures
}

// Fail injects an asynchronous fault on an open channel.
func (p *LocalProvider) Fail(channel string, err error) {
	p.mu.Lock()
	h, ok := p.open[channel]
	p.mu.Unlock()

	if !ok {
		return
	}
	h.Close()
	p.failures <- Failure{Channel: channel, Err: err}
}

// SetOpenError makes subsequent Open calls fail with err; nil restores
// normal behavior.
func (p *LocalProvider) SetOpenError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
}

type localHandle struct {
	channel  string
	provider *LocalProvider
	once     sync.Once
}

func (h *localHandle) Channel() string {
	return h.channel
}

func (h *localHandle) Close() error {
	h.once.Do(func() {
		h.provider.mu.Lock()
		delete(h.provider.open, h.channel)
		h.provider.mu.Unlock()
		log.Debug().Str("channel", h.channel).Msg("local media channel closed")
	})
	return nil
}
