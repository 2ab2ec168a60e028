package model

type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo
}

// CallStatus is the lifecycle state of a live call session.
// Transitions: connecting -> connected -> ended, with error reachable
// from connecting or connected. Terminal states never change.
type CallStatus string

const (
	CallStatusConnecting CallStatus = "connecting"
	CallStatusConnected  CallStatus = "connected"
	CallStatusEnded      CallStatus = "ended"
	CallStatusError      CallStatus = "error"
)

func (s CallStatus) Terminal() bool {
	return s == CallStatusEnded || s == CallStatusError
}

// RequestStatus is the lifecycle state of an incoming call request.
// pending -> {accepted, declined, expired}, all terminal.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusDeclined RequestStatus = "declined"
	RequestStatusExpired  RequestStatus = "expired"
)

func (s RequestStatus) Terminal() bool {
	return s != RequestStatusPending
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

func (s PresenceStatus) Valid() bool {
	return s == PresenceOnline || s == PresenceAway || s == PresenceOffline
}
