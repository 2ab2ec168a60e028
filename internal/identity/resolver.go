// Package identity maps bearer tokens to opaque participant references.
// The engine treats identity as external; this is the seam to whatever
// user store runs alongside it.
package identity

import (
	"context"

	"github.com/consultly/call-server-go/internal/util"
)

// Participant is an authenticated caller of the engine.
type Participant struct {
	Ref string
}

type Resolver interface {
	// Resolve returns the participant for a bearer token, or nil if the
	// token is unknown.
	Resolve(ctx context.Context, token string) (*Participant, error)
}

// StaticResolver resolves against a fixed token map, hashed at
// construction so raw tokens are not kept in memory.
type StaticResolver struct {
	byHash map[string]string // sha256(token) hex -> participant ref
}

func NewStaticResolver(tokens map[string]string) *StaticResolver {
	byHash := make(map[string]string, len(tokens))
	for token, ref := range tokens {
		byHash[util.HashToken(token)] = ref
	}
	return &StaticResolver{byHash: byHash}
}

func (r *StaticResolver) Resolve(_ context.Context, token string) (*Participant, error) {
	ref, ok := r.byHash[util.HashToken(token)]
	if !ok {
		return nil, nil
	}
	return &Participant{Ref: ref}, nil
}
