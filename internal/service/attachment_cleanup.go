package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	registryattach "github.com/chirino/chat-service/internal/registry/attach"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// AttachmentCleanupService periodically deletes uploads that were never
// referenced by a message.
type AttachmentCleanupService struct {
	store       registrystore.ChatStore
	attachStore registryattach.AttachmentStore
	interval    time.Duration
	orphanAge   time.Duration
}

func NewAttachmentCleanupService(store registrystore.ChatStore, attachStore registryattach.AttachmentStore, interval, orphanAge time.Duration) *AttachmentCleanupService {
	return &AttachmentCleanupService{
		store:       store,
		attachStore: attachStore,
		interval:    interval,
		orphanAge:   orphanAge,
	}
}

func (s *AttachmentCleanupService) Start(ctx context.Context) {
	if s == nil || s.store == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupOnce(ctx)
		}
	}
}

func (s *AttachmentCleanupService) cleanupOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.orphanAge)
	for {
		orphans, err := s.store.FindOrphanAttachments(ctx, cutoff, 200)
		if err != nil {
			log.Error("Attachment cleanup list failed", "err", err)
			return
		}
		if len(orphans) == 0 {
			return
		}

		deleted := make([]uuid.UUID, 0, len(orphans))
		for _, attachment := range orphans {
			if s.attachStore != nil {
				if err := s.attachStore.Delete(ctx, attachment.StorageKey); err != nil {
					log.Warn("Attachment cleanup blob delete failed", "attachmentId", attachment.ID.String(), "err", err)
					continue
				}
			}
			deleted = append(deleted, attachment.ID)
		}
		if len(deleted) == 0 {
			return
		}
		if err := s.store.DeleteAttachments(ctx, deleted); err != nil {
			log.Error("Attachment cleanup delete failed", "err", err)
			return
		}
		log.Debug("Deleted orphaned attachments", "count", len(deleted))

		if len(orphans) < 200 {
			return
		}
	}
}
