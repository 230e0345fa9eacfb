package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis is a Feed backed by Redis Pub/Sub, so that processes sharing one
// database see each other's writes.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func channelName(gameID string) string { return "quiz:game:" + gameID }

func (r *Redis) Publish(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding change: %w", err)
	}
	if err := r.client.Publish(ctx, channelName(c.GameID), data).Err(); err != nil {
		return fmt.Errorf("publishing change: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, gameID string) (*Subscription, error) {
	ps := r.client.Subscribe(ctx, channelName(gameID))
	// Wait for the confirmation so no change published after Subscribe
	// returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", gameID, err)
	}

	out := make(chan Change, SubscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for msg := range ps.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				r.logger.Warn("dropping undecodable change", "game_id", gameID, "error", err)
				continue
			}
			select {
			case out <- c:
			default:
			}
		}
	}()

	return newSubscription(out, func() {
		ps.Close()
		<-done
	}), nil
}
