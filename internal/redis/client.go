package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// PresenceKey is the hash holding a provider's last observed activity.
func PresenceKey(providerID string) string {
	return fmt.Sprintf("presence:%s", providerID)
}

// EventChannel is the pub/sub channel carrying call events for one
// participant, fanned out to their SSE streams across instances.
func EventChannel(participantRef string) string {
	return fmt.Sprintf("calls:events:%s", participantRef)
}
