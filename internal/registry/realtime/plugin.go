package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventNewMessage is published on a conversation channel when a message is
// persisted.
const EventNewMessage = "new-message"

// ConversationChannel returns the pub/sub channel name for a conversation.
func ConversationChannel(conversationID uuid.UUID) string {
	return "private-conversation-" + conversationID.String()
}

// Event is the envelope carried on the broker.
type Event struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Subscription is a live feed of events on one channel. Events() is closed
// when the subscription is closed or the broker connection is lost.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Broker fans out conversation events to subscribers. Publishing is
// best-effort; a delivery failure never affects the persisted message.
type Broker interface {
	Publish(ctx context.Context, channel string, event string, payload any) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// Loader creates a Broker from config.
type Loader func(ctx context.Context) (Broker, error)

// Plugin represents a realtime broker plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a realtime plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered realtime plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named realtime plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown realtime broker %q; valid: %v", name, Names())
}
