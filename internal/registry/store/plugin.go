package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// PagedMessages is one reverse-chronological page of messages. AfterCursor
// is nil on the last page; otherwise it is the createdAt timestamp to pass
// back to fetch the next (older) page.
type PagedMessages struct {
	Data        []model.Message `json:"data"`
	AfterCursor *string         `json:"afterCursor,omitempty"`
}

// Member is the API representation of a conversation member.
type Member struct {
	model.UserSummary
	Role     model.MemberRole `json:"role"`
	JoinedAt time.Time        `json:"joinedAt"`
}

// ConversationSummary is the inbox-list representation of a conversation.
type ConversationSummary struct {
	ID          uuid.UUID      `json:"id"`
	IsGroup     bool           `json:"isGroup"`
	Name        *string        `json:"name,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Members     []Member       `json:"members"`
	LastMessage *model.Message `json:"lastMessage,omitempty"`
	UnreadCount int64          `json:"unreadCount"`
}

// ConversationDetail is the full conversation for get/create/resolve.
type ConversationDetail struct {
	ID        uuid.UUID `json:"id"`
	IsGroup   bool      `json:"isGroup"`
	Name      *string   `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Members   []Member  `json:"members"`
}

// NewUser is the input for account registration.
type NewUser struct {
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	PhoneNumber string  `json:"phoneNumber"`
	Image       *string `json:"image,omitempty"`
}

// Validate normalizes and checks the registration input.
func (r *NewUser) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	if r.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !strings.Contains(r.Email, "@") {
		return &ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	normalized, err := NormalizePhoneNumber(r.PhoneNumber)
	if err != nil {
		return &ValidationError{Field: "phoneNumber", Message: err.Error()}
	}
	r.PhoneNumber = normalized
	return nil
}

// NormalizePhoneNumber strips separators and checks the result is an E.164
// number: a leading + followed by 7 to 15 digits.
func NormalizePhoneNumber(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator, drop it
		default:
			return "", fmt.Errorf("invalid character %q in phone number", r)
		}
	}
	n := b.String()
	if !strings.HasPrefix(n, "+") {
		return "", fmt.Errorf("phone number must start with a country code (+)")
	}
	if digits := len(n) - 1; digits < 7 || digits > 15 {
		return "", fmt.Errorf("phone number must have 7 to 15 digits")
	}
	return n, nil
}

// UserUpdate defines the mutable profile fields. Nil fields are untouched.
type UserUpdate struct {
	Name  *string `json:"name,omitempty"`
	Image *string `json:"image,omitempty"`
}

// NewMessage is the input for sending a message. Exactly one of
// ConversationID and RecipientID must be set; RecipientID resolves the
// direct conversation with that user first.
type NewMessage struct {
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	RecipientID    *uuid.UUID `json:"recipientId,omitempty"`
	Content        *string    `json:"content,omitempty"`
	MediaURL       *string    `json:"mediaUrl,omitempty"`
	MediaType      *string    `json:"mediaType,omitempty"`
	MediaThumbnail *string    `json:"mediaThumbnail,omitempty"`
	MediaDuration  *int       `json:"mediaDuration,omitempty"`
	MediaSize      *int64     `json:"mediaSize,omitempty"`
	MimeType       *string    `json:"mimeType,omitempty"`
}

// Validate checks the target and payload rules. It does not check
// membership; the store does that against the resolved conversation.
func (r *NewMessage) Validate() error {
	if (r.ConversationID == nil) == (r.RecipientID == nil) {
		return &ValidationError{Field: "conversationId", Message: "exactly one of conversationId or recipientId is required"}
	}
	hasContent := r.Content != nil && strings.TrimSpace(*r.Content) != ""
	hasMedia := r.MediaURL != nil && *r.MediaURL != ""
	if !hasContent && !hasMedia {
		return &ValidationError{Field: "content", Message: "content or mediaUrl is required"}
	}
	if hasMedia {
		if r.MediaType == nil || *r.MediaType == "" {
			return &ValidationError{Field: "mediaType", Message: "required when mediaUrl is set"}
		}
		if !model.MessageType(*r.MediaType).IsValid() {
			return &ValidationError{Field: "mediaType", Message: fmt.Sprintf("unknown media type %q", *r.MediaType)}
		}
	} else if r.MediaType != nil && *r.MediaType != "" {
		return &ValidationError{Field: "mediaType", Message: "only allowed with mediaUrl"}
	}
	return nil
}

// Type returns the message type implied by the payload.
func (r *NewMessage) Type() model.MessageType {
	if r.MediaURL != nil && r.MediaType != nil {
		return model.MessageType(*r.MediaType)
	}
	return model.MessageTypeText
}

// EncodeTimeCursor renders a pagination cursor from a row timestamp.
func EncodeTimeCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimeCursor parses a cursor produced by EncodeTimeCursor.
func ParseTimeCursor(cursor string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "cursor", Message: "must be an RFC 3339 timestamp"}
	}
	return t, nil
}

// maxUUID sorts after every real message ID, turning a timestamp-only
// cursor into "everything at or before this instant".
var maxUUID = uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

// EncodeMessageCursor renders a message pagination cursor from the boundary
// row's timestamp and ID. The ID breaks ties between rows sharing a
// timestamp, so following the cursor always makes progress.
func EncodeMessageCursor(t time.Time, id uuid.UUID) string {
	return t.UTC().Format(time.RFC3339Nano) + "," + id.String()
}

// ParseMessageCursor parses a cursor produced by EncodeMessageCursor. A bare
// RFC 3339 timestamp is accepted too and behaves as if it carried the
// highest possible ID.
func ParseMessageCursor(cursor string) (time.Time, uuid.UUID, error) {
	ts, idStr, compound := strings.Cut(cursor, ",")
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, uuid.Nil, &ValidationError{Field: "cursor", Message: "malformed pagination cursor"}
	}
	if !compound {
		return t, maxUUID, nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return time.Time{}, uuid.Nil, &ValidationError{Field: "cursor", Message: "malformed pagination cursor"}
	}
	return t, id, nil
}

// ChatStore defines the primary data access interface for the chat service.
type ChatStore interface {
	// Users
	RegisterUser(ctx context.Context, req NewUser) (*model.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)
	GetUserByPhone(ctx context.Context, phoneNumber string) (*model.User, error)
	UpdateUserProfile(ctx context.Context, userID uuid.UUID, update UserUpdate) (*model.User, error)

	// Conversations
	ResolveDirectConversation(ctx context.Context, userID, otherUserID uuid.UUID) (*ConversationDetail, bool, error)
	CreateGroupConversation(ctx context.Context, userID uuid.UUID, name string, memberIDs []uuid.UUID) (*ConversationDetail, error)
	ListConversations(ctx context.Context, userID uuid.UUID, afterCursor *string, limit int) ([]ConversationSummary, *string, error)
	GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*ConversationDetail, error)

	// Members
	ListMembers(ctx context.Context, userID, conversationID uuid.UUID) ([]Member, error)
	AddMember(ctx context.Context, userID, conversationID, newMemberID uuid.UUID) (*Member, error)
	RemoveMember(ctx context.Context, userID, conversationID, memberID uuid.UUID) error

	// Messages
	SendMessage(ctx context.Context, userID uuid.UUID, req NewMessage) (*model.Message, error)
	GetMessages(ctx context.Context, userID, conversationID uuid.UUID, afterCursor *string, limit int) (*PagedMessages, error)
	DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) (*model.Message, error)

	// Receipts
	MarkDelivered(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID, conversationID uuid.UUID) (int64, error)

	// Attachments
	CreateAttachment(ctx context.Context, attachment model.Attachment) (*model.Attachment, error)
	GetAttachmentByStorageKey(ctx context.Context, storageKey string) (*model.Attachment, error)
	LinkAttachments(ctx context.Context, userID uuid.UUID, messageID uuid.UUID, storageKeys []string) error
	FindOrphanAttachments(ctx context.Context, cutoff time.Time, limit int) ([]model.Attachment, error)
	DeleteAttachments(ctx context.Context, attachmentIDs []uuid.UUID) error
}

// Loader creates a ChatStore from config.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
