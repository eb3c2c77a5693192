package store

import (
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"already normalized", "+15550001234", "+15550001234", false},
		{"separators stripped", "+1 (555) 000-1234", "+15550001234", false},
		{"dots and spaces", " +44 20.7946.0958 ", "+442079460958", false},
		{"missing plus", "15550001234", "", true},
		{"too short", "+123456", "", true},
		{"too long", "+1234567890123456", "", true},
		{"letters", "+1555CALLNOW", "", true},
		{"plus in the middle", "+1555+0001234", "", true},
		{"empty", "", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhoneNumber(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewUserValidate(t *testing.T) {
	req := NewUser{
		Name:        "  Alice  ",
		Email:       " Alice@Example.COM ",
		PhoneNumber: "+1 (555) 000-1234",
	}
	require.NoError(t, req.Validate())
	assert.Equal(t, "Alice", req.Name)
	assert.Equal(t, "alice@example.com", req.Email)
	assert.Equal(t, "+15550001234", req.PhoneNumber)

	cases := []struct {
		name      string
		req       NewUser
		wantField string
	}{
		{"blank name", NewUser{Name: "  ", Email: "a@b.com", PhoneNumber: "+15550001234"}, "name"},
		{"bad email", NewUser{Name: "Alice", Email: "not-an-email", PhoneNumber: "+15550001234"}, "email"},
		{"bad phone", NewUser{Name: "Alice", Email: "a@b.com", PhoneNumber: "555-1234"}, "phoneNumber"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var verr *ValidationError
			require.ErrorAs(t, tc.req.Validate(), &verr)
			assert.Equal(t, tc.wantField, verr.Field)
		})
	}
}

func TestNewMessageValidate(t *testing.T) {
	convID := uuid.New()
	recipientID := uuid.New()

	valid := NewMessage{ConversationID: &convID, Content: strptr("hi")}
	require.NoError(t, valid.Validate())
	assert.Equal(t, model.MessageTypeText, valid.Type())

	media := NewMessage{
		ConversationID: &convID,
		MediaURL:       strptr("/v1/attachments/abc"),
		MediaType:      strptr(string(model.MessageTypeImage)),
	}
	require.NoError(t, media.Validate())
	assert.Equal(t, model.MessageTypeImage, media.Type())

	pdf := NewMessage{
		ConversationID: &convID,
		MediaURL:       strptr("/v1/attachments/doc"),
		MediaType:      strptr(string(model.MessageTypePdf)),
	}
	require.NoError(t, pdf.Validate())
	assert.Equal(t, model.MessageTypePdf, pdf.Type())

	cases := []struct {
		name      string
		req       NewMessage
		wantField string
	}{
		{"no target", NewMessage{Content: strptr("hi")}, "conversationId"},
		{"both targets", NewMessage{ConversationID: &convID, RecipientID: &recipientID, Content: strptr("hi")}, "conversationId"},
		{"no payload", NewMessage{ConversationID: &convID}, "content"},
		{"whitespace content", NewMessage{ConversationID: &convID, Content: strptr("   ")}, "content"},
		{"media without type", NewMessage{ConversationID: &convID, MediaURL: strptr("/v1/attachments/abc")}, "mediaType"},
		{"unknown media type", NewMessage{ConversationID: &convID, MediaURL: strptr("/v1/attachments/abc"), MediaType: strptr("hologram")}, "mediaType"},
		{"media type without url", NewMessage{ConversationID: &convID, Content: strptr("hi"), MediaType: strptr(string(model.MessageTypeImage))}, "mediaType"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var verr *ValidationError
			require.ErrorAs(t, tc.req.Validate(), &verr)
			assert.Equal(t, tc.wantField, verr.Field)
		})
	}
}

func TestTimeCursorRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 30, 45, 123456789, time.FixedZone("CEST", 2*3600))

	cursor := EncodeTimeCursor(at)
	parsed, err := ParseTimeCursor(cursor)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(at))
	assert.Equal(t, time.UTC, parsed.Location())

	_, err = ParseTimeCursor("not-a-timestamp")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cursor", verr.Field)
}

func TestMessageCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	id := uuid.New()

	cursor := EncodeMessageCursor(at, id)
	parsedAt, parsedID, err := ParseMessageCursor(cursor)
	require.NoError(t, err)
	assert.True(t, parsedAt.Equal(at))
	assert.Equal(t, id, parsedID)

	// A bare timestamp still parses, with the ID bound wide open.
	parsedAt, parsedID, err = ParseMessageCursor(EncodeTimeCursor(at))
	require.NoError(t, err)
	assert.True(t, parsedAt.Equal(at))
	assert.Equal(t, maxUUID, parsedID)

	for _, bad := range []string{"yesterday", "2026-03-01T12:00:00Z,not-an-id", ","} {
		_, _, err := ParseMessageCursor(bad)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "cursor %q", bad)
		assert.Equal(t, "cursor", verr.Field)
	}
}
