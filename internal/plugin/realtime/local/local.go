// Package local is an in-process realtime broker. It fans events out to
// subscribers in the same process, which is all a single-node deployment
// needs; multi-node deployments use the redis broker.
package local

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	registryrealtime "github.com/chirino/chat-service/internal/registry/realtime"
)

func init() {
	registryrealtime.Register(registryrealtime.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registryrealtime.Broker, error) {
			return New(), nil
		},
	})
}

// New returns an empty in-process broker.
func New() registryrealtime.Broker {
	return &localBroker{subs: map[string]map[*localSubscription]bool{}}
}

type localBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*localSubscription]bool
	closed bool
}

func (b *localBroker) Publish(ctx context.Context, channel string, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := registryrealtime.Event{Name: event, Payload: raw}

	// Sends happen under the lock so a subscription cannot be torn down
	// mid-delivery. Slow consumers get dropped rather than block the sender.
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[channel] {
		select {
		case sub.events <- ev:
		default:
			log.Warn("Dropping realtime event for slow subscriber", "channel", channel, "event", event)
		}
	}
	return nil
}

func (b *localBroker) Subscribe(ctx context.Context, channel string) (registryrealtime.Subscription, error) {
	sub := &localSubscription{
		broker:  b,
		channel: channel,
		events:  make(chan registryrealtime.Event, 16),
	}
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = map[*localSubscription]bool{}
	}
	b.subs[channel][sub] = true
	b.mu.Unlock()
	return sub, nil
}

func (b *localBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.shutdown()
		}
	}
	b.subs = map[string]map[*localSubscription]bool{}
	return nil
}

type localSubscription struct {
	broker    *localBroker
	channel   string
	events    chan registryrealtime.Event
	closeOnce sync.Once
}

func (s *localSubscription) Events() <-chan registryrealtime.Event {
	return s.events
}

func (s *localSubscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.subs[s.channel], s)
	s.shutdown()
	return nil
}

// shutdown must be called with the broker lock held.
func (s *localSubscription) shutdown() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

var _ registryrealtime.Broker = (*localBroker)(nil)
