// Package media defines the contract to the external audio/video
// transport. The engine never looks inside a channel: it opens one per
// session, holds the handle for the session's lifetime, and releases it
// exactly once on termination.
package media

import (
	"context"

	"github.com/consultly/call-server-go/internal/model"
)

// Handle is an opaque reference to an open media channel. Close is
// idempotent; releasing an already released handle is a no-op.
type Handle interface {
	Channel() string
	Close() error
}

// Failure is an asynchronous channel fault (network drop, transport
// teardown) reported after Open succeeded.
type Failure struct {
	Channel string
	Err     error
}

// Provider establishes and tears down media channels.
type Provider interface {
	// Open establishes the channel or fails. Callers bound it with a
	// context deadline; exceeding the deadline is a failure.
	Open(ctx context.Context, channel string, kind model.CallKind) (Handle, error)

	// Failures emits asynchronous channel faults for channels that were
	// successfully opened.
	Failures() <-chan Failure
}
