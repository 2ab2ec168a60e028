// Package audit emits the billing and lifecycle trail: one structured
// log line per event that money or dispute handling could hinge on.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventRequestCreated   EventType = "request_created"
	EventRequestAccepted  EventType = "request_accepted"
	EventRequestDeclined  EventType = "request_declined"
	EventRequestExpired   EventType = "request_expired"
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
	EventSessionError     EventType = "session_error"
	EventExtensionApplied EventType = "extension_applied"
	EventPaymentRejected  EventType = "payment_rejected"
	EventPersistFailure   EventType = "persist_failure"
	EventAuthFailure      EventType = "auth_failure"
	EventRateLimitExceed  EventType = "rate_limit_exceeded"
)

type Event struct {
	Type           EventType
	ParticipantRef string
	SessionID      string
	RequestID      string
	IP             string
	UserAgent      string
	Details        map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "billing").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.ParticipantRef != "" {
		logger = logger.With().Str("participant_ref", event.ParticipantRef).Logger()
	}
	if event.SessionID != "" {
		logger = logger.With().Str("session_id", event.SessionID).Logger()
	}
	if event.RequestID != "" {
		logger = logger.With().Str("request_id", event.RequestID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
