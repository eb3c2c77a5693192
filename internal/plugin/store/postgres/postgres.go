package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return New(db, cfg), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "postgres" {
		return nil // skip if not using postgres
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// Store implements ChatStore using GORM. The SQL it issues sticks to the
// portable subset shared by postgres and sqlite; the sqlite plugin reuses it
// with a different dialector.
type Store struct {
	db  *gorm.DB
	cfg *config.Config
}

// New wraps an open GORM handle as a ChatStore.
func New(db *gorm.DB, cfg *config.Config) *Store {
	return &Store{db: db, cfg: cfg}
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

// --- Users ---

func (s *Store) RegisterUser(ctx context.Context, req registrystore.NewUser) (*model.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	user := model.User{
		ID:          uuid.New(),
		Name:        req.Name,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Image:       req.Image,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, &ConflictError{Message: "an account with this phone number or email already exists"}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	var user model.User
	result := s.db.WithContext(ctx).Where("id = ?", userID).Limit(1).Find(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: "user", ID: userID.String()}
	}
	return &user, nil
}

func (s *Store) GetUserByPhone(ctx context.Context, phoneNumber string) (*model.User, error) {
	normalized, err := registrystore.NormalizePhoneNumber(phoneNumber)
	if err != nil {
		return nil, &ValidationError{Field: "phone", Message: err.Error()}
	}
	var user model.User
	result := s.db.WithContext(ctx).Where("phone_number = ?", normalized).Limit(1).Find(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: "user", ID: normalized}
	}
	return &user, nil
}

func (s *Store) UpdateUserProfile(ctx context.Context, userID uuid.UUID, update registrystore.UserUpdate) (*model.User, error) {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, &ValidationError{Field: "name", Message: "must not be empty"}
		}
		updates["name"] = name
	}
	if update.Image != nil {
		updates["image"] = *update.Image
	}
	result := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: "user", ID: userID.String()}
	}
	return s.GetUser(ctx, userID)
}

// --- Conversations ---

func (s *Store) ResolveDirectConversation(ctx context.Context, userID, otherUserID uuid.UUID) (*registrystore.ConversationDetail, bool, error) {
	if userID == otherUserID {
		return nil, false, &ValidationError{Field: "userId", Message: "cannot start a conversation with yourself"}
	}
	if _, err := s.GetUser(ctx, otherUserID); err != nil {
		return nil, false, err
	}

	directKey := model.DirectKey(userID, otherUserID)
	if detail, err := s.findDirectConversation(ctx, directKey); err != nil {
		return nil, false, err
	} else if detail != nil {
		return detail, false, nil
	}

	now := time.Now()
	conv := model.Conversation{
		ID:        uuid.New(),
		IsGroup:   false,
		DirectKey: &directKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		members := []model.ConversationMember{
			{ConversationID: conv.ID, UserID: userID, Role: model.RoleMember, JoinedAt: now},
			{ConversationID: conv.ID, UserID: otherUserID, Role: model.RoleMember, JoinedAt: now},
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			// Lost the race to a concurrent resolve; the unique direct_key
			// index guarantees the winner's row is the one to use.
			detail, findErr := s.findDirectConversation(ctx, directKey)
			if findErr != nil {
				return nil, false, findErr
			}
			if detail != nil {
				return detail, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create direct conversation: %w", err)
	}

	detail, err := s.loadDetail(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return detail, true, nil
}

func (s *Store) findDirectConversation(ctx context.Context, directKey string) (*registrystore.ConversationDetail, error) {
	var conv model.Conversation
	result := s.db.WithContext(ctx).Where("direct_key = ?", directKey).Limit(1).Find(&conv)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to look up direct conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return s.loadDetail(ctx, conv.ID)
}

func (s *Store) CreateGroupConversation(ctx context.Context, userID uuid.UUID, name string, memberIDs []uuid.UUID) (*registrystore.ConversationDetail, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "group conversations require a name"}
	}
	unique := map[uuid.UUID]bool{userID: true}
	ids := []uuid.UUID{userID}
	for _, id := range memberIDs {
		if !unique[id] {
			unique[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return nil, &ValidationError{Field: "memberIds", Message: "at least one other member is required"}
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check members: %w", err)
	}
	if int(count) != len(ids) {
		return nil, &ValidationError{Field: "memberIds", Message: "unknown user in member list"}
	}

	now := time.Now()
	conv := model.Conversation{
		ID:        uuid.New(),
		IsGroup:   true,
		Name:      &name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		members := make([]model.ConversationMember, len(ids))
		for i, id := range ids {
			role := model.RoleMember
			if id == userID {
				role = model.RoleAdmin
			}
			members[i] = model.ConversationMember{ConversationID: conv.ID, UserID: id, Role: role, JoinedAt: now}
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create group conversation: %w", err)
	}
	return s.loadDetail(ctx, conv.ID)
}

func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID, afterCursor *string, limit int) ([]registrystore.ConversationSummary, *string, error) {
	if limit <= 0 {
		limit = 20
	}
	tx := s.db.WithContext(ctx).
		Table("conversations c").
		Select("c.*").
		Joins("JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = ?", userID).
		Order("c.updated_at DESC, c.id DESC").
		Limit(limit + 1)
	if afterCursor != nil {
		t, err := registrystore.ParseTimeCursor(*afterCursor)
		if err != nil {
			return nil, nil, err
		}
		tx = tx.Where("c.updated_at < ?", t)
	}

	var convs []model.Conversation
	if err := tx.Scan(&convs).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	hasMore := len(convs) > limit
	if hasMore {
		convs = convs[:limit]
	}

	summaries := make([]registrystore.ConversationSummary, len(convs))
	for i, c := range convs {
		members, err := s.members(ctx, c.ID)
		if err != nil {
			return nil, nil, err
		}
		last, err := s.lastMessage(ctx, c.ID)
		if err != nil {
			return nil, nil, err
		}
		unread, err := s.unreadCount(ctx, userID, c.ID)
		if err != nil {
			return nil, nil, err
		}
		summaries[i] = registrystore.ConversationSummary{
			ID:          c.ID,
			IsGroup:     c.IsGroup,
			Name:        c.Name,
			CreatedAt:   c.CreatedAt,
			UpdatedAt:   c.UpdatedAt,
			Members:     members,
			LastMessage: last,
			UnreadCount: unread,
		}
	}

	var cursor *string
	if hasMore && len(summaries) > 0 {
		c := registrystore.EncodeTimeCursor(summaries[len(summaries)-1].UpdatedAt)
		cursor = &c
	}
	return summaries, cursor, nil
}

func (s *Store) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*registrystore.ConversationDetail, error) {
	if err := s.requireMember(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.loadDetail(ctx, conversationID)
}

func (s *Store) loadDetail(ctx context.Context, conversationID uuid.UUID) (*registrystore.ConversationDetail, error) {
	var conv model.Conversation
	result := s.db.WithContext(ctx).Where("id = ?", conversationID).Limit(1).Find(&conv)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	members, err := s.members(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &registrystore.ConversationDetail{
		ID:        conv.ID,
		IsGroup:   conv.IsGroup,
		Name:      conv.Name,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Members:   members,
	}, nil
}

func (s *Store) members(ctx context.Context, conversationID uuid.UUID) ([]registrystore.Member, error) {
	type row struct {
		UserID   uuid.UUID        `gorm:"column:user_id"`
		Name     string           `gorm:"column:name"`
		Image    *string          `gorm:"column:image"`
		Role     model.MemberRole `gorm:"column:role"`
		JoinedAt time.Time        `gorm:"column:joined_at"`
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Table("conversation_members cm").
		Select("cm.user_id, u.name, u.image, cm.role, cm.joined_at").
		Joins("JOIN users u ON u.id = cm.user_id").
		Where("cm.conversation_id = ?", conversationID).
		Order("cm.joined_at ASC, cm.user_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	members := make([]registrystore.Member, len(rows))
	for i, r := range rows {
		members[i] = registrystore.Member{
			UserSummary: model.UserSummary{ID: r.UserID, Name: r.Name, Image: r.Image},
			Role:        r.Role,
			JoinedAt:    r.JoinedAt,
		}
	}
	return members, nil
}

func (s *Store) lastMessage(ctx context.Context, conversationID uuid.UUID) (*model.Message, error) {
	var msg model.Message
	result := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&msg)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load last message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	if err := s.attachSenders(ctx, []*model.Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) unreadCount(ctx context.Context, userID, conversationID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table("message_receipts mr").
		Joins("JOIN messages m ON m.id = mr.message_id").
		Where("m.conversation_id = ? AND mr.user_id = ? AND mr.is_read = ?", conversationID, userID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// requireMember returns NotFoundError when the conversation does not exist
// and ForbiddenError when the user is not one of its members.
func (s *Store) requireMember(ctx context.Context, userID, conversationID uuid.UUID) error {
	var conv model.Conversation
	result := s.db.WithContext(ctx).Select("id").Where("id = ?", conversationID).Limit(1).Find(&conv)
	if result.Error != nil {
		return fmt.Errorf("failed to load conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	var m model.ConversationMember
	result = s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Limit(1).
		Find(&m)
	if result.Error != nil {
		return fmt.Errorf("failed to check membership: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &ForbiddenError{}
	}
	return nil
}

// --- Members ---

func (s *Store) ListMembers(ctx context.Context, userID, conversationID uuid.UUID) ([]registrystore.Member, error) {
	if err := s.requireMember(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.members(ctx, conversationID)
}

func (s *Store) AddMember(ctx context.Context, userID, conversationID, newMemberID uuid.UUID) (*registrystore.Member, error) {
	conv, err := s.requireGroup(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	user, err := s.GetUser(ctx, newMemberID)
	if err != nil {
		return nil, err
	}
	member := model.ConversationMember{
		ConversationID: conv.ID,
		UserID:         newMemberID,
		Role:           model.RoleMember,
		JoinedAt:       time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, &ConflictError{Message: "user is already a member"}
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return &registrystore.Member{UserSummary: user.Summary(), Role: member.Role, JoinedAt: member.JoinedAt}, nil
}

func (s *Store) RemoveMember(ctx context.Context, userID, conversationID, memberID uuid.UUID) error {
	conv, err := s.requireGroup(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	// Members may leave on their own; removing someone else requires admin.
	if memberID != userID {
		var me model.ConversationMember
		result := s.db.WithContext(ctx).
			Where("conversation_id = ? AND user_id = ?", conv.ID, userID).
			Limit(1).
			Find(&me)
		if result.Error != nil {
			return fmt.Errorf("failed to check membership: %w", result.Error)
		}
		if result.RowsAffected == 0 || me.Role != model.RoleAdmin {
			return &ForbiddenError{}
		}
	}
	result := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conv.ID, memberID).
		Delete(&model.ConversationMember{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove member: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "member", ID: memberID.String()}
	}
	return nil
}

// requireGroup loads the conversation and verifies it is a group the user
// belongs to. Direct conversations have a fixed member pair.
func (s *Store) requireGroup(ctx context.Context, userID, conversationID uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	result := s.db.WithContext(ctx).Where("id = ?", conversationID).Limit(1).Find(&conv)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	if err := s.requireMember(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, &ValidationError{Field: "conversationId", Message: "membership of a direct conversation cannot change"}
	}
	return &conv, nil
}
