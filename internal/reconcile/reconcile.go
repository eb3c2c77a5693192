// Package reconcile merges paginated message history with live broker
// events into a single consistent view. Pages and events can arrive in any
// order and overlap; everything is keyed by message ID so replays and the
// boundary row shared by adjacent pages collapse to one entry.
package reconcile

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/realtime"
	"github.com/google/uuid"
)

// View is an in-memory reverse-chronological view of one conversation's
// messages. Safe for concurrent use.
type View struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]model.Message
	earliest *string // cursor for the next (older) page, nil until known
	complete bool    // true once the oldest page has been merged
}

// NewView returns an empty view.
func NewView() *View {
	return &View{byID: map[uuid.UUID]model.Message{}}
}

// Apply folds a single message in. Applying the same message twice is a
// no-op; a newer revision of a known message (a tombstone after a delete)
// replaces the old one.
func (v *View) Apply(msg model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.apply(msg)
}

func (v *View) apply(msg model.Message) {
	if existing, ok := v.byID[msg.ID]; ok && existing.UpdatedAt.After(msg.UpdatedAt) {
		return
	}
	v.byID[msg.ID] = msg
}

// MergePage folds a fetched history page in and remembers its cursor so
// Earliest can resume pagination where the page left off.
func (v *View) MergePage(page []model.Message, afterCursor *string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, msg := range page {
		v.apply(msg)
	}
	v.earliest = afterCursor
	if afterCursor == nil {
		v.complete = true
	}
}

// Earliest returns the cursor for the next older page, and whether the
// whole history has already been merged.
func (v *View) Earliest() (*string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.earliest, v.complete
}

// Len returns the number of distinct messages held.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.byID)
}

// Messages returns the snapshot ordered newest first, matching the order
// the server pages in.
func (v *View) Messages() []model.Message {
	v.mu.RLock()
	msgs := make([]model.Message, 0, len(v.byID))
	for _, m := range v.byID {
		msgs = append(msgs, m)
	}
	v.mu.RUnlock()

	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID.String() > msgs[j].ID.String()
	})
	return msgs
}

// Follow consumes a broker subscription, applying new-message events to the
// view until the subscription closes or the context is canceled.
func (v *View) Follow(ctx context.Context, sub realtime.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if event.Name != realtime.EventNewMessage {
				continue
			}
			var msg model.Message
			if err := json.Unmarshal(event.Payload, &msg); err != nil {
				log.Warn("Ignoring undecodable message event", "error", err)
				continue
			}
			v.Apply(msg)
		}
	}
}
