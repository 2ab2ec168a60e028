package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/consultly/call-server-go/internal/identity"
)

type contextKey string

const ParticipantContextKey contextKey = "participant"

func GetParticipant(ctx context.Context) *identity.Participant {
	if p, ok := ctx.Value(ParticipantContextKey).(*identity.Participant); ok {
		return p
	}
	return nil
}

type AuthMiddleware struct {
	resolver identity.Resolver
}

func NewAuthMiddleware(resolver identity.Resolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		participant, err := m.resolver.Resolve(r.Context(), token)
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: resolver error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Authentication failed",
			})
			return
		}

		if participant == nil {
			log.Warn().Msg("auth middleware: invalid token attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		ctx := context.WithValue(r.Context(), ParticipantContextKey, participant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken accepts the query parameter form as well since
// EventSource clients cannot set headers.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
