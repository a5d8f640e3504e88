package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/trakwell-ai/websocket-notify/internal/dispatch"
	"github.com/trakwell-ai/websocket-notify/internal/logger"
)

// Envelope is the cross-instance wire format for a notify request.
type Envelope struct {
	Origin       string                `json:"origin"`
	UserID       string                `json:"userid"`
	Room         string                `json:"room"`
	Notification dispatch.Notification `json:"notification"`
}

// Relay fans notify requests out to every relay instance over Redis
// pub/sub, so a request accepted by one instance reaches connections held
// by the others. Each instance delivers locally before publishing and skips
// its own envelopes on receive.
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
}

func New(client *redis.Client, channel string) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Publish sends a notify request to the other instances.
func (r *Relay) Publish(ctx context.Context, userID, room string, n dispatch.Notification) error {
	data, err := json.Marshal(Envelope{
		Origin:       r.origin,
		UserID:       userID,
		Room:         room,
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("relay: failed to marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay: publish failed: %w", err)
	}
	return nil
}

// Listen consumes envelopes from other instances until ctx is done,
// handing each to deliver. Malformed envelopes are logged and skipped.
func (r *Relay) Listen(ctx context.Context, deliver func(userID, room string, n dispatch.Notification)) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("relay: skipping malformed envelope", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(env.UserID, env.Room, env.Notification)
		}
	}
}
