package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

func (s *Store) CreateAttachment(ctx context.Context, attachment model.Attachment) (*model.Attachment, error) {
	if attachment.ID == uuid.Nil {
		attachment.ID = uuid.New()
	}
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&attachment).Error; err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}
	return &attachment, nil
}

func (s *Store) GetAttachmentByStorageKey(ctx context.Context, storageKey string) (*model.Attachment, error) {
	var att model.Attachment
	result := s.db.WithContext(ctx).Where("storage_key = ?", storageKey).Limit(1).Find(&att)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load attachment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: "attachment", ID: storageKey}
	}
	return &att, nil
}

// LinkAttachments claims uploaded attachments for a message. Only the
// uploader's own unlinked attachments are claimed; unknown keys are ignored.
func (s *Store) LinkAttachments(ctx context.Context, userID uuid.UUID, messageID uuid.UUID, storageKeys []string) error {
	if len(storageKeys) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&model.Attachment{}).
		Where("storage_key IN ? AND user_id = ? AND message_id IS NULL", storageKeys, userID).
		Update("message_id", messageID).Error
	if err != nil {
		return fmt.Errorf("failed to link attachments: %w", err)
	}
	return nil
}

func (s *Store) FindOrphanAttachments(ctx context.Context, cutoff time.Time, limit int) ([]model.Attachment, error) {
	var atts []model.Attachment
	err := s.db.WithContext(ctx).
		Where("message_id IS NULL AND created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&atts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan attachments: %w", err)
	}
	return atts, nil
}

func (s *Store) DeleteAttachments(ctx context.Context, attachmentIDs []uuid.UUID) error {
	if len(attachmentIDs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", attachmentIDs).Delete(&model.Attachment{}).Error; err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	return nil
}
