package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/realtime/local"
	registryrealtime "github.com/chirino/chat-service/internal/registry/realtime"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMessage(content string, at time.Time) model.Message {
	c := content
	return model.Message{
		ID:        uuid.New(),
		Content:   &c,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestMergePageDedupesBoundaryRows(t *testing.T) {
	v := NewView()
	base := time.Now()

	m1 := textMessage("one", base.Add(1*time.Second))
	m2 := textMessage("two", base.Add(2*time.Second))
	m3 := textMessage("three", base.Add(3*time.Second))

	cursor := "page-2"
	// The inclusive cursor makes m2 appear on both sides of the page split.
	v.MergePage([]model.Message{m3, m2}, &cursor)
	v.MergePage([]model.Message{m2, m1}, nil)

	assert.Equal(t, 3, v.Len())
	msgs := v.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", *msgs[0].Content)
	assert.Equal(t, "two", *msgs[1].Content)
	assert.Equal(t, "one", *msgs[2].Content)
}

func TestEarliestTracksPagination(t *testing.T) {
	v := NewView()

	cursor, complete := v.Earliest()
	assert.Nil(t, cursor)
	assert.False(t, complete)

	next := "older"
	v.MergePage([]model.Message{textMessage("a", time.Now())}, &next)
	cursor, complete = v.Earliest()
	require.NotNil(t, cursor)
	assert.Equal(t, "older", *cursor)
	assert.False(t, complete)

	v.MergePage(nil, nil)
	cursor, complete = v.Earliest()
	assert.Nil(t, cursor)
	assert.True(t, complete)
}

func TestApplyKeepsNewestRevision(t *testing.T) {
	v := NewView()
	at := time.Now()

	msg := textMessage("original", at)
	v.Apply(msg)

	tombstone := msg
	tombstone.Content = nil
	tombstone.IsDeleted = true
	tombstone.UpdatedAt = at.Add(time.Second)
	v.Apply(tombstone)

	// A stale replay of the original must not resurrect the content.
	v.Apply(msg)

	require.Equal(t, 1, v.Len())
	got := v.Messages()[0]
	assert.True(t, got.IsDeleted)
	assert.Nil(t, got.Content)
}

func TestMessagesBreaksTimestampTiesByID(t *testing.T) {
	v := NewView()
	at := time.Now()

	a := textMessage("a", at)
	b := textMessage("b", at)
	v.MergePage([]model.Message{a, b}, nil)

	msgs := v.Messages()
	require.Len(t, msgs, 2)
	assert.Greater(t, msgs[0].ID.String(), msgs[1].ID.String())
}

func TestFollowAppliesBrokerEvents(t *testing.T) {
	v := NewView()
	broker := local.New()
	defer broker.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := broker.Subscribe(ctx, "conv")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.Follow(ctx, sub)
	}()

	msg := textMessage("live", time.Now())
	require.NoError(t, broker.Publish(ctx, "conv", registryrealtime.EventNewMessage, msg))
	// Unknown event names are ignored.
	require.NoError(t, broker.Publish(ctx, "conv", "typing", map[string]string{"userId": "x"}))

	require.Eventually(t, func() bool { return v.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not stop on context cancel")
	}
}
