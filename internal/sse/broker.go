// Package sse streams call events (request lifecycle, session status,
// extension outcomes) to connected participants. Events flow through
// redis pub/sub so every server instance sees publishes from any other.
package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/consultly/call-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

// Event types emitted by the call engine.
const (
	EventRequestCreated   = "request_created"
	EventRequestAccepted  = "request_accepted"
	EventRequestDeclined  = "request_declined"
	EventRequestExpired   = "request_expired"
	EventSessionStatus    = "session_status"
	EventExtensionOffer   = "extension_offer"
	EventExtensionApplied = "extension_applied"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an event, logging instead of failing
// since publishers treat event delivery as best effort.
func NewEvent(eventType string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to marshal event payload")
		data = []byte("{}")
	}
	return Event{Type: eventType, Data: data}
}

type Client struct {
	ParticipantRef string
	Events         chan Event
	Done           chan struct{}
}

type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // participantRef -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(participantRef string) *Client {
	client := &Client{
		ParticipantRef: participantRef,
		Events:         make(chan Event, 100),
		Done:           make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[participantRef] == nil {
		b.clients[participantRef] = make(map[*Client]bool)
		go b.subscribeToRedis(participantRef)
	}
	b.clients[participantRef][client] = true
	clientCount := len(b.clients[participantRef])
	b.mu.Unlock()

	log.Info().
		Str("participantRef", participantRef).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.ParticipantRef]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.ParticipantRef)
		}

		log.Info().
			Str("participantRef", client.ParticipantRef).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, participantRef string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.EventChannel(participantRef)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(participantRef string) {
	channel := redisclient.EventChannel(participantRef)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("participantRef", participantRef).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(participantRef, event)
		}
	}
}

func (b *Broker) broadcast(participantRef string, event Event) {
	b.mu.RLock()
	clients := b.clients[participantRef]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("participantRef", participantRef).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(participantRef string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[participantRef])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
