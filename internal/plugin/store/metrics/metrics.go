package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) RegisterUser(ctx context.Context, req store.NewUser) (*model.User, error) {
	defer observe("register_user", time.Now())
	return m.inner.RegisterUser(ctx, req)
}

func (m *metricsStore) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, userID)
}

func (m *metricsStore) GetUserByPhone(ctx context.Context, phoneNumber string) (*model.User, error) {
	defer observe("get_user_by_phone", time.Now())
	return m.inner.GetUserByPhone(ctx, phoneNumber)
}

func (m *metricsStore) UpdateUserProfile(ctx context.Context, userID uuid.UUID, update store.UserUpdate) (*model.User, error) {
	defer observe("update_user_profile", time.Now())
	return m.inner.UpdateUserProfile(ctx, userID, update)
}

func (m *metricsStore) ResolveDirectConversation(ctx context.Context, userID, otherUserID uuid.UUID) (*store.ConversationDetail, bool, error) {
	defer observe("resolve_direct_conversation", time.Now())
	return m.inner.ResolveDirectConversation(ctx, userID, otherUserID)
}

func (m *metricsStore) CreateGroupConversation(ctx context.Context, userID uuid.UUID, name string, memberIDs []uuid.UUID) (*store.ConversationDetail, error) {
	defer observe("create_group_conversation", time.Now())
	return m.inner.CreateGroupConversation(ctx, userID, name, memberIDs)
}

func (m *metricsStore) ListConversations(ctx context.Context, userID uuid.UUID, afterCursor *string, limit int) ([]store.ConversationSummary, *string, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, userID, afterCursor, limit)
}

func (m *metricsStore) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*store.ConversationDetail, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, userID, conversationID)
}

func (m *metricsStore) ListMembers(ctx context.Context, userID, conversationID uuid.UUID) ([]store.Member, error) {
	defer observe("list_members", time.Now())
	return m.inner.ListMembers(ctx, userID, conversationID)
}

func (m *metricsStore) AddMember(ctx context.Context, userID, conversationID, newMemberID uuid.UUID) (*store.Member, error) {
	defer observe("add_member", time.Now())
	return m.inner.AddMember(ctx, userID, conversationID, newMemberID)
}

func (m *metricsStore) RemoveMember(ctx context.Context, userID, conversationID, memberID uuid.UUID) error {
	defer observe("remove_member", time.Now())
	return m.inner.RemoveMember(ctx, userID, conversationID, memberID)
}

func (m *metricsStore) SendMessage(ctx context.Context, userID uuid.UUID, req store.NewMessage) (*model.Message, error) {
	defer observe("send_message", time.Now())
	return m.inner.SendMessage(ctx, userID, req)
}

func (m *metricsStore) GetMessages(ctx context.Context, userID, conversationID uuid.UUID, afterCursor *string, limit int) (*store.PagedMessages, error) {
	defer observe("get_messages", time.Now())
	return m.inner.GetMessages(ctx, userID, conversationID, afterCursor, limit)
}

func (m *metricsStore) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) (*model.Message, error) {
	defer observe("delete_message", time.Now())
	return m.inner.DeleteMessage(ctx, userID, messageID)
}

func (m *metricsStore) MarkDelivered(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (int64, error) {
	defer observe("mark_delivered", time.Now())
	return m.inner.MarkDelivered(ctx, userID, messageIDs)
}

func (m *metricsStore) MarkRead(ctx context.Context, userID, conversationID uuid.UUID) (int64, error) {
	defer observe("mark_read", time.Now())
	return m.inner.MarkRead(ctx, userID, conversationID)
}

func (m *metricsStore) CreateAttachment(ctx context.Context, attachment model.Attachment) (*model.Attachment, error) {
	defer observe("create_attachment", time.Now())
	return m.inner.CreateAttachment(ctx, attachment)
}

func (m *metricsStore) GetAttachmentByStorageKey(ctx context.Context, storageKey string) (*model.Attachment, error) {
	defer observe("get_attachment_by_storage_key", time.Now())
	return m.inner.GetAttachmentByStorageKey(ctx, storageKey)
}

func (m *metricsStore) LinkAttachments(ctx context.Context, userID uuid.UUID, messageID uuid.UUID, storageKeys []string) error {
	defer observe("link_attachments", time.Now())
	return m.inner.LinkAttachments(ctx, userID, messageID, storageKeys)
}

func (m *metricsStore) FindOrphanAttachments(ctx context.Context, cutoff time.Time, limit int) ([]model.Attachment, error) {
	defer observe("find_orphan_attachments", time.Now())
	return m.inner.FindOrphanAttachments(ctx, cutoff, limit)
}

func (m *metricsStore) DeleteAttachments(ctx context.Context, attachmentIDs []uuid.UUID) error {
	defer observe("delete_attachments", time.Now())
	return m.inner.DeleteAttachments(ctx, attachmentIDs)
}
