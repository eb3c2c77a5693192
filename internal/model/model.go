package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a message's payload.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypePdf   MessageType = "pdf"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// IsValid reports whether t is one of the known message types.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypePdf, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// MemberRole is a member's role within a conversation.
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
)

// User is a registered account, keyed by unique phone number and email.
type User struct {
	ID          uuid.UUID `json:"id"              gorm:"primaryKey;type:uuid"`
	Name        string    `json:"name"            gorm:"not null"`
	Email       string    `json:"email"           gorm:"uniqueIndex;not null"`
	PhoneNumber string    `json:"phoneNumber"     gorm:"uniqueIndex;not null"`
	Image       *string   `json:"image,omitempty"`
	CreatedAt   time.Time `json:"createdAt"       gorm:"not null"`
	UpdatedAt   time.Time `json:"updatedAt"       gorm:"not null"`
}

func (User) TableName() string { return "users" }

// UserSummary is the subset of User embedded in message and member responses.
type UserSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Image *string   `json:"image,omitempty"`
}

// Summary returns the embeddable view of the user.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Image: u.Image}
}

// Conversation is a direct (two-member) or group chat.
//
// DirectKey is the canonical "<lowID>:<highID>" pair for direct
// conversations and NULL for groups. The unique index on it is what makes
// concurrent resolution of the same pair collapse to a single row.
type Conversation struct {
	ID        uuid.UUID `json:"id"             gorm:"primaryKey;type:uuid"`
	IsGroup   bool      `json:"isGroup"        gorm:"not null;default:false"`
	Name      *string   `json:"name,omitempty" gorm:"type:varchar(255)"`
	DirectKey *string   `json:"-"              gorm:"uniqueIndex"`
	CreatedAt time.Time `json:"createdAt"      gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt"      gorm:"not null"`
}

func (Conversation) TableName() string { return "conversations" }

// DirectKey returns the canonical key for a direct conversation between the
// two users, insensitive to argument order.
func DirectKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if strings.Compare(x, y) > 0 {
		x, y = y, x
	}
	return x + ":" + y
}

// ConversationMember links a user into a conversation.
type ConversationMember struct {
	ConversationID uuid.UUID  `json:"-"        gorm:"primaryKey;type:uuid;index:idx_members_by_conversation"`
	UserID         uuid.UUID  `json:"userId"   gorm:"primaryKey;type:uuid;index:idx_members_by_user"`
	Role           MemberRole `json:"role"     gorm:"type:varchar(50);not null;default:'member'"`
	JoinedAt       time.Time  `json:"joinedAt" gorm:"not null"`
}

func (ConversationMember) TableName() string { return "conversation_members" }

// Message is a persisted chat message. CreatedAt is immutable after insert;
// the pagination cursor is derived from it.
type Message struct {
	ID             uuid.UUID   `json:"id"                       gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID   `json:"conversationId"           gorm:"not null;type:uuid;index:idx_messages_by_conversation,priority:1"`
	SenderID       uuid.UUID   `json:"senderId"                 gorm:"not null;type:uuid"`
	Content        *string     `json:"content"`
	MessageType    MessageType `json:"messageType"              gorm:"type:varchar(20);not null;default:'text'"`
	MediaURL       *string     `json:"mediaUrl,omitempty"`
	MediaThumbnail *string     `json:"mediaThumbnail,omitempty"`
	MediaDuration  *int        `json:"mediaDuration,omitempty"`
	MediaSize      *int64      `json:"mediaSize,omitempty"`
	MimeType       *string     `json:"mimeType,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"                gorm:"not null;index:idx_messages_by_conversation,priority:2,sort:desc"`
	UpdatedAt      time.Time   `json:"updatedAt"                gorm:"not null"`
	IsDeleted      bool        `json:"isDeleted"                gorm:"not null;default:false"`

	Sender *UserSummary `json:"sender,omitempty" gorm:"-"`
}

func (Message) TableName() string { return "messages" }

// MessageReceipt tracks per-recipient delivery and read state.
type MessageReceipt struct {
	MessageID   uuid.UUID  `json:"messageId"             gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID  `json:"userId"                gorm:"primaryKey;type:uuid"`
	IsDelivered bool       `json:"isDelivered"           gorm:"not null;default:false"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	IsRead      bool       `json:"isRead"                gorm:"not null;default:false"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

func (MessageReceipt) TableName() string { return "message_receipts" }

// Attachment is uploaded media metadata. The bytes live in the attachment
// store under StorageKey; MessageID is set once a message references it.
type Attachment struct {
	ID          uuid.UUID  `json:"id"                  gorm:"primaryKey;type:uuid"`
	StorageKey  string     `json:"-"                   gorm:"not null"`
	Filename    *string    `json:"filename,omitempty"`
	ContentType string     `json:"contentType"         gorm:"not null"`
	Size        int64      `json:"size"                gorm:"not null"`
	UserID      uuid.UUID  `json:"userId"              gorm:"not null;type:uuid"`
	MessageID   *uuid.UUID `json:"messageId,omitempty" gorm:"type:uuid"`
	CreatedAt   time.Time  `json:"createdAt"           gorm:"not null"`
}

func (Attachment) TableName() string { return "attachments" }
