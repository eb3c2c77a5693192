package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) SendMessage(ctx context.Context, userID uuid.UUID, req registrystore.NewMessage) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var conversationID uuid.UUID
	if req.RecipientID != nil {
		detail, _, err := s.ResolveDirectConversation(ctx, userID, *req.RecipientID)
		if err != nil {
			return nil, err
		}
		conversationID = detail.ID
	} else {
		conversationID = *req.ConversationID
		if err := s.requireMember(ctx, userID, conversationID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        req.Content,
		MessageType:    req.Type(),
		MediaURL:       req.MediaURL,
		MediaThumbnail: req.MediaThumbnail,
		MediaDuration:  req.MediaDuration,
		MediaSize:      req.MediaSize,
		MimeType:       req.MimeType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		// The inbox sorts on updated_at, so a new message floats the
		// conversation to the top.
		if err := tx.Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", now).Error; err != nil {
			return fmt.Errorf("failed to bump conversation: %w", err)
		}

		var memberIDs []uuid.UUID
		if err := tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ? AND user_id <> ?", conversationID, userID).
			Pluck("user_id", &memberIDs).Error; err != nil {
			return fmt.Errorf("failed to load recipients: %w", err)
		}
		if len(memberIDs) > 0 {
			receipts := make([]model.MessageReceipt, len(memberIDs))
			for i, id := range memberIDs {
				receipts[i] = model.MessageReceipt{MessageID: msg.ID, UserID: id}
			}
			if err := tx.Create(&receipts).Error; err != nil {
				return fmt.Errorf("failed to create receipts: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.attachSenders(ctx, []*model.Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) GetMessages(ctx context.Context, userID, conversationID uuid.UUID, afterCursor *string, limit int) (*registrystore.PagedMessages, error) {
	if err := s.requireMember(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	max := 50
	if s.cfg != nil && s.cfg.MessagePageSizeMax > 0 {
		max = s.cfg.MessagePageSizeMax
	}
	if limit <= 0 {
		limit = 20
		if s.cfg != nil && s.cfg.MessagePageSize > 0 {
			limit = s.cfg.MessagePageSize
		}
	}
	if limit > max {
		limit = max
	}

	tx := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)
	if afterCursor != nil {
		t, id, err := registrystore.ParseMessageCursor(*afterCursor)
		if err != nil {
			return nil, err
		}
		// The cursor names the first row of this page, so the boundary row
		// is included exactly once even when timestamps collide.
		tx = tx.Where("created_at < ? OR (created_at = ? AND id <= ?)", t, t, id)
	}

	var msgs []model.Message
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var cursor *string
	if len(msgs) > limit {
		c := registrystore.EncodeMessageCursor(msgs[limit].CreatedAt, msgs[limit].ID)
		cursor = &c
		msgs = msgs[:limit]
	}

	refs := make([]*model.Message, len(msgs))
	for i := range msgs {
		refs[i] = &msgs[i]
	}
	if err := s.attachSenders(ctx, refs); err != nil {
		return nil, err
	}
	return &registrystore.PagedMessages{Data: msgs, AfterCursor: cursor}, nil
}

func (s *Store) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) (*model.Message, error) {
	var msg model.Message
	result := s.db.WithContext(ctx).Where("id = ?", messageID).Limit(1).Find(&msg)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: "message", ID: messageID.String()}
	}
	if msg.SenderID != userID {
		return nil, &ForbiddenError{}
	}

	// Tombstone, not removal: readers still see the row with isDeleted set.
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&msg).Updates(map[string]interface{}{
		"is_deleted":      true,
		"content":         nil,
		"media_url":       nil,
		"media_thumbnail": nil,
		"media_duration":  nil,
		"media_size":      nil,
		"mime_type":       nil,
		"updated_at":      now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}
	msg.IsDeleted = true
	msg.Content = nil
	msg.MediaURL = nil
	msg.MediaThumbnail = nil
	msg.MediaDuration = nil
	msg.MediaSize = nil
	msg.MimeType = nil
	msg.UpdatedAt = now
	if err := s.attachSenders(ctx, []*model.Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// --- Receipts ---

func (s *Store) MarkDelivered(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Model(&model.MessageReceipt{}).
		Where("message_id IN ? AND user_id = ? AND is_delivered = ?", messageIDs, userID, false).
		Updates(map[string]interface{}{"is_delivered": true, "delivered_at": time.Now()})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark delivered: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) MarkRead(ctx context.Context, userID, conversationID uuid.UUID) (int64, error) {
	if err := s.requireMember(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&model.MessageReceipt{}).
		Where("user_id = ? AND is_read = ? AND message_id IN (?)", userID, false,
			s.db.Model(&model.Message{}).Select("id").Where("conversation_id = ?", conversationID)).
		Updates(map[string]interface{}{"is_read": true, "read_at": now, "is_delivered": true, "delivered_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// attachSenders joins sender summaries onto the messages in place.
func (s *Store) attachSenders(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(msgs))
	seen := map[uuid.UUID]bool{}
	for _, m := range msgs {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			ids = append(ids, m.SenderID)
		}
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return fmt.Errorf("failed to load senders: %w", err)
	}
	byID := make(map[uuid.UUID]model.UserSummary, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].Summary()
	}
	for _, m := range msgs {
		if summary, ok := byID[m.SenderID]; ok {
			s := summary
			m.Sender = &s
		}
	}
	return nil
}
