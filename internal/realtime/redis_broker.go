package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gmptracker/internal/records"

	"github.com/redis/go-redis/v9"
)

// RedisBroker relays changes through Redis pub/sub so every API instance
// sees writes made through any other instance.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBrokerWithClient(client), nil
}

func NewRedisBrokerWithClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, prefix: "gmp:changes:"}
}

// channel is scoped per workspace and table; item filtering happens on the
// subscriber side.
func (b *RedisBroker) channel(workspaceID string, table records.Table) string {
	return b.prefix + workspaceID + ":" + string(table)
}

func (b *RedisBroker) Publish(ctx context.Context, change records.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(change.WorkspaceID, change.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	if filter.Table == "" || filter.WorkspaceID == "" {
		return nil, fmt.Errorf("subscribe: table and workspace are required")
	}

	pubsub := b.client.Subscribe(ctx, b.channel(filter.WorkspaceID, filter.Table))
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe changes: %w", err)
	}

	out := make(chan records.Change, 64)
	sub := NewSubscription(out, func() { _ = pubsub.Close() })

	go func() {
		defer close(out)
		defer sub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change records.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					log.Printf("realtime: drop malformed change on %s: %v", msg.Channel, err)
					continue
				}
				if !filter.Match(change) {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				case <-sub.done:
					return
				}
			}
		}
	}()

	return sub, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
