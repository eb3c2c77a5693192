package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	registryrealtime "github.com/chirino/chat-service/internal/registry/realtime"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registryrealtime.Register(registryrealtime.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registryrealtime.Broker, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis realtime: CHAT_SERVICE_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates a Broker from a Redis-compatible URL. Exported so
// tests can point it at a container without going through config.
func LoadFromURL(ctx context.Context, redisURL string) (registryrealtime.Broker, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis realtime: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis realtime: ping failed: %w", err)
	}
	return &redisBroker{client: client}, nil
}

type redisBroker struct {
	client *goredis.Client
}

func (b *redisBroker) Publish(ctx context.Context, channel string, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis realtime: encode payload: %w", err)
	}
	envelope, err := json.Marshal(registryrealtime.Event{Name: event, Payload: raw})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, envelope).Err()
}

func (b *redisBroker) Subscribe(ctx context.Context, channel string) (registryrealtime.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// Force the SUBSCRIBE round trip so a broken connection fails here
	// instead of silently delivering nothing.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis realtime: subscribe failed: %w", err)
	}

	events := make(chan registryrealtime.Event)
	sub := &redisSubscription{pubsub: pubsub, events: events}
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var event registryrealtime.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn("Dropping malformed realtime event", "channel", channel, "error", err)
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

func (b *redisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *goredis.PubSub
	events chan registryrealtime.Event
}

func (s *redisSubscription) Events() <-chan registryrealtime.Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

var _ registryrealtime.Broker = (*redisBroker)(nil)
