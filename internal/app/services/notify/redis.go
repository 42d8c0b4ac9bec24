package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/tip_settlement/internal/logging"
)

const channelPrefix = "tips:notifications:"

// RedisBroker publishes notifications on a per-receiver Redis channel so any
// server instance holding the receiver's stream can deliver them.
type RedisBroker struct {
	client *redis.Client
	log    *logging.Logger
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker wraps an existing client.
func NewRedisBroker(client *redis.Client, log *logging.Logger) *RedisBroker {
	if log == nil {
		log = logging.NewDefault("notify")
	}
	return &RedisBroker{client: client, log: log}
}

// Channel returns the Redis channel for a receiver.
func Channel(userID string) string {
	return channelPrefix + userID
}

func (b *RedisBroker) NotifyTipReceived(ctx context.Context, n TipReceived) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(n.ReceiverID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (<-chan TipReceived, func(), error) {
	ps := b.client.Subscribe(ctx, Channel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", userID, err)
	}

	ctx, cancelCtx := context.WithCancel(ctx)
	out := make(chan TipReceived, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n TipReceived
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					b.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed notification")
					continue
				}
				select {
				case out <- n:
				default:
				}
			}
		}
	}()
	return out, cancelCtx, nil
}
