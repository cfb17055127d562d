package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/pass-ticketing/internal/events"
)

const channelPrefix = "realtime:user:"

// UserChannel is the pub/sub channel carrying messages for userID.
func UserChannel(userID string) string {
	return channelPrefix + userID
}

// RedisPublisher forwards events to every instance through Redis pub/sub.
type RedisPublisher struct {
	R redis.UniversalClient
}

// Notify publishes ev on the owning user's channel.
func (p RedisPublisher) Notify(ctx context.Context, ev events.Event) error {
	if p.R == nil {
		return errors.New("realtime: redis client not configured")
	}
	frame, err := json.Marshal(Message{Event: ev.Topic, Data: ev.Payload})
	if err != nil {
		return err
	}
	if err := p.R.Publish(ctx, UserChannel(ev.UserID), frame).Err(); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

// SubscribeRedis relays every user channel to local sessions until ctx ends
// or the returned close function is called. It returns once the subscription
// is confirmed.
func (h *Hub) SubscribeRedis(ctx context.Context, client redis.UniversalClient) (func() error, error) {
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("realtime: subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				h.relay(ctx, m)
			}
		}
	}()
	return pubsub.Close, nil
}

func (h *Hub) relay(ctx context.Context, m *redis.Message) {
	userID := strings.TrimPrefix(m.Channel, channelPrefix)
	if userID == "" || userID == m.Channel {
		return
	}
	var msg Message
	if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
		h.logger.Warn().Err(err).Str("channel", m.Channel).Msg("discarding malformed realtime message")
		return
	}
	h.Notify(ctx, userID, msg)
}
