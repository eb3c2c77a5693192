package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	_ "github.com/chirino/chat-service/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testpg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.ChatStore, context.Context) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)

	return store, ctx
}

func registerUser(t *testing.T, store registrystore.ChatStore, ctx context.Context, name string) *model.User {
	t.Helper()
	user, err := store.RegisterUser(ctx, registrystore.NewUser{
		Name:        name,
		Email:       name + "@example.com",
		PhoneNumber: fmt.Sprintf("+1555%07d", time.Now().UnixNano()%10000000),
	})
	require.NoError(t, err)
	return user
}

func TestRegisterUser(t *testing.T) {
	store, ctx := setupTestStore(t)

	user, err := store.RegisterUser(ctx, registrystore.NewUser{
		Name:        "Alice",
		Email:       "Alice@Example.com",
		PhoneNumber: "+1 (555) 010-0001",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice@example.com", user.Email, "email is normalized to lowercase")
	assert.Equal(t, "+15550100001", user.PhoneNumber, "phone is normalized to E.164")

	// Same phone again conflicts.
	_, err = store.RegisterUser(ctx, registrystore.NewUser{
		Name:        "Imposter",
		Email:       "other@example.com",
		PhoneNumber: "+15550100001",
	})
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)

	// Invalid inputs are rejected before hitting the database.
	_, err = store.RegisterUser(ctx, registrystore.NewUser{Name: "", Email: "a@b.com", PhoneNumber: "+15550100002"})
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "name", validation.Field)

	_, err = store.RegisterUser(ctx, registrystore.NewUser{Name: "Bob", Email: "nope", PhoneNumber: "+15550100002"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "email", validation.Field)

	_, err = store.RegisterUser(ctx, registrystore.NewUser{Name: "Bob", Email: "b@b.com", PhoneNumber: "5550100002"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "phoneNumber", validation.Field)
}

func TestGetUserByPhone(t *testing.T) {
	store, ctx := setupTestStore(t)

	user, err := store.RegisterUser(ctx, registrystore.NewUser{
		Name:        "Alice",
		Email:       "alice@example.com",
		PhoneNumber: "+15550100001",
	})
	require.NoError(t, err)

	// Lookup normalizes its input the same way registration does.
	got, err := store.GetUserByPhone(ctx, "+1 555 010 0001")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = store.GetUserByPhone(ctx, "+19990000000")
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestUpdateUserProfile(t *testing.T) {
	store, ctx := setupTestStore(t)
	user := registerUser(t, store, ctx, "alice")

	name := "Alice Lidell"
	image := "https://example.com/alice.png"
	updated, err := store.UpdateUserProfile(ctx, user.ID, registrystore.UserUpdate{Name: &name, Image: &image})
	require.NoError(t, err)
	assert.Equal(t, "Alice Lidell", updated.Name)
	require.NotNil(t, updated.Image)
	assert.Equal(t, image, *updated.Image)
	assert.Equal(t, user.PhoneNumber, updated.PhoneNumber, "phone is immutable through profile updates")

	empty := "  "
	_, err = store.UpdateUserProfile(ctx, user.ID, registrystore.UserUpdate{Name: &empty})
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestResolveDirectConversation(t *testing.T) {
	store, ctx := setupTestStore(t)
	alice := registerUser(t, store, ctx, "alice")
	bob := registerUser(t, store, ctx, "bob")

	conv, created, err := store.ResolveDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, conv.IsGroup)
	assert.Len(t, conv.Members, 2)

	// Same pair resolves to the same conversation, from either side.
	again, created, err := store.ResolveDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	reversed, created, err := store.ResolveDirectConversation(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, reversed.ID)

	// Self conversations are rejected.
	_, _, err = store.ResolveDirectConversation(ctx, alice.ID, alice.ID)
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)

	// The other user must exist.
	_, _, err = store.ResolveDirectConversation(ctx, alice.ID, uuid.New())
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestResolveDirectConversationConcurrent(t *testing.T) {
	store, ctx := setupTestStore(t)
	alice := registerUser(t, store, ctx, "alice")
	bob := registerUser(t, store, ctx, "bob")

	type result struct {
		id  uuid.UUID
		err error
	}
	results := make(chan result, 8)
	for i := 0; i < 8; i++ {
		go func() {
			conv, _, err := store.ResolveDirectConversation(ctx, alice.ID, bob.ID)
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{id: conv.ID}
		}()
	}

	var winner uuid.UUID
	for i := 0; i < 8; i++ {
		r := <-results
		require.NoError(t, r.err)
		if winner == uuid.Nil {
			winner = r.id
		}
		assert.Equal(t, winner, r.id, "all racers must converge on one conversation")
	}
}

func TestCreateGroupConversation(t *testing.T) {
	store, ctx := setupTestStore(t)
	alice := registerUser(t, store, ctx, "alice")
	bob := registerUser(t, store, ctx, "bob")
	carol := registerUser(t, store, ctx, "carol")

	conv, err := store.CreateGroupConversation(ctx, alice.ID, "Book club", []uuid.UUID{bob.ID, carol.ID})
	require.NoError(t, err)
	assert.True(t, conv.IsGroup)
	require.NotNil(t, conv.Name)
	assert.Equal(t, "Book club", *conv.Name)
	require.Len(t, conv.Members, 3)

	roles := map[uuid.UUID]model.MemberRole{}
	for _, m := range conv.Members {
		roles[m.ID] = m.Role
	}
	assert.Equal(t, model.RoleAdmin, roles[alice.ID], "the creator is the admin")
	assert.Equal(t, model.RoleMember, roles[bob.ID])

	var validation *registrystore.ValidationError
	_, err = store.CreateGroupConversation(ctx, alice.ID, "", []uuid.UUID{bob.ID})
	require.ErrorAs(t, err, &validation)

	_, err = store.CreateGroupConversation(ctx, alice.ID, "Empty", nil)
	require.ErrorAs(t, err, &validation)

	_, err = store.CreateGroupConversation(ctx, alice.ID, "Ghosts", []uuid.UUID{uuid.New()})
	require.ErrorAs(t, err, &validation)
}

func TestMembership(t *testing.T) {
	store, ctx := setupTestStore(t)
	alice := registerUser(t, store, ctx, "alice")
	bob := registerUser(t, store, ctx, "bob")
	carol := registerUser(t, store, ctx, "carol")

	conv, err := store.CreateGroupConversation(ctx, alice.ID, "Book club", []uuid.UUID{bob.ID})
	require.NoError(t, err)

	// Admin adds a member.
	member, err := store.AddMember(ctx, alice.ID, conv.ID, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, carol.ID, member.ID)
	assert.Equal(t, model.RoleMember, member.Role)

	// Adding again conflicts.
	_, err = store.AddMember(ctx, alice.ID, conv.ID, carol.ID)
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)

	// Non-admins cannot remove someone else.
	err = store.RemoveMember(ctx, bob.ID, conv.ID, carol.ID)
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	// Members can leave on their own.
	err = store.RemoveMember(ctx, bob.ID, conv.ID, bob.ID)
	require.NoError(t, err)

	members, err := store.ListMembers(ctx, alice.ID, conv.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// Direct conversation membership is fixed.
	direct, _, err := store.ResolveDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = store.AddMember(ctx, alice.ID, direct.ID, carol.ID)
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestSendAndGetMessages(t *testing.T) {
	store, ctx := setupTestStore(t)
	alice := registerUser(t, store, ctx, "alice")
	bob := registerUser(t, store, ctx, "bob")
	carol := registerUser(t, store, ctx, "carol")

	conv, _, err := store.ResolveDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	content := "hello bob"
	msg, err := store.SendMessage(ctx, alice.ID, registrystore.NewMessage{
		ConversationID: &conv.ID,
		Content:        &content,
	})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.Equal(t, alice.ID, msg.SenderID)
	assert.Equal(t, model.MessageTypeText, msg.MessageType)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "alice", msg.Sender.Name)

	// Sending by recipient id resolves the same direct conversation.
	reply := "hello alice"
	msg2, err := store.SendMessage(ctx, bob.ID, registrystore.NewMessage{
		RecipientID: &alice.ID,
		Content:     &reply,
	})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, msg2.ConversationID)

	// Non-members are rejected.
	_, err = store.SendMessage(ctx, carol.ID, registrystore.NewMessage{
		ConversationID: &conv.ID,
		Content:        &content,
	})
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	page, err := store.GetMessages(ctx, bob.ID, conv.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "hello alice", *page.Data[0].Content, "newest first")
	assert.Equal(t, "hello bob", *page.Data[1].Content)
	assert.Nil(t, page.AfterCursor)

	_, err = store.GetMessages(ctx, carol.ID, conv.ID, nil, 0)
	require.ErrorAs(t, err, &forbidden)
}

func TestMessagePagination(t *testing.T) {
	store, ctx := setupTestStore(t)
	alice := registerUser(t, store, ctx, "alice")
	bob := registerUser(t, store, ctx, "bob")

	conv, _, err := store.ResolveDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		content := fmt.Sprintf("message %d", i)
		_, err := store.SendMessage(ctx, alice.ID, registrystore.NewMessage{
			ConversationID: &conv.ID,
			Content:        &content,
		})
		require.NoError(t, err)
		// Distinct timestamps keep the cursor walk unambiguous.
		time.Sleep(2 * time.Millisecond)
	}

	page, err := store.GetMessages(ctx, alice.ID, conv.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "message 5", *page.Data[0].Content)
	assert.Equal(t, "message 4", *page.Data[1].Content)
	require.NotNil(t, page.AfterCursor)

	page, err = store.GetMessages(ctx, alice.ID, conv.ID, page.AfterCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "message 3", *page.Data[0].Content)
	assert.Equal(t, "message 2", *page.Data[1].Content)
	require.NotNil(t, page.AfterCursor)

	page, err = store.GetMessages(ctx, alice.ID, conv.ID, page.AfterCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "message 1", *page.Data[0].Content)
	assert.Nil(t, page.AfterCursor, "last page carries no cursor")

	// A bad cursor is a validation error.
	bad := "yesterday"
	_, err = store.GetMessages(ctx, alice.ID, conv.ID, &bad, 2)
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)

	// Oversized limits are clamped to the configured maximum.
	page, err = store.GetMessages(ctx, alice.ID, conv.ID, nil, 100000)
	require.NoError(t, err)
	assert.Len(t, page.Data, 5)
}

func TestDeleteMessageTombstone(t *testing.T) {
	store, ctx := setupTestStore(t)
	alice := registerUser(t, store, ctx, "alice")
	bob := registerUser(t, store, ctx, "bob")

	conv, _, err := store.ResolveDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	content := "delete me"
	msg, err := store.SendMessage(ctx, alice.ID, registrystore.NewMessage{
		ConversationID: &conv.ID,
		Content:        &content,
	})
	require.NoError(t, err)

	// Only the sender can delete.
	_, err = store.DeleteMessage(ctx, bob.ID, msg.ID)
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	deleted, err := store.DeleteMessage(ctx, alice.ID, msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Nil(t, deleted.Content)

	// The tombstone still occupies its place in the history.
	page, err := store.GetMessages(ctx, bob.ID, conv.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.True(t, page.Data[0].IsDeleted)
	assert.Nil(t, page.Data[0].Content)

	// Deleting a media message strips every media column, not just the URL.
	mediaURL := "/v1/attachments/doc"
	mediaType := "pdf"
	thumb := "/v1/attachments/doc-thumb"
	size := int64(2048)
	mime := "application/pdf"
	mediaMsg, err := store.SendMessage(ctx, alice.ID, registrystore.NewMessage{
		ConversationID: &conv.ID,
		MediaURL:       &mediaURL,
		MediaType:      &mediaType,
		MediaThumbnail: &thumb,
		MediaSize:      &size,
		MimeType:       &mime,
	})
	require.NoError(t, err)

	deleted, err = store.DeleteMessage(ctx, alice.ID, mediaMsg.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Nil(t, deleted.MediaURL)
	assert.Nil(t, deleted.MediaThumbnail)
	assert.Nil(t, deleted.MediaSize)
	assert.Nil(t, deleted.MimeType)

	page, err = store.GetMessages(ctx, bob.ID, conv.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	for _, m := range page.Data {
		if m.ID != mediaMsg.ID {
			continue
		}
		assert.Nil(t, m.MediaURL)
		assert.Nil(t, m.MediaThumbnail)
		assert.Nil(t, m.MediaSize)
		assert.Nil(t, m.MimeType)
	}

	_, err = store.DeleteMessage(ctx, alice.ID, uuid.New())
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestReceipts(t *testing.T) {
	store, ctx := setupTestStore(t)
	alice := registerUser(t, store, ctx, "alice")
	bob := registerUser(t, store, ctx, "bob")

	conv, _, err := store.ResolveDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	var msgIDs []uuid.UUID
	for _, text := range []string{"one", "two"} {
		content := text
		msg, err := store.SendMessage(ctx, alice.ID, registrystore.NewMessage{
			ConversationID: &conv.ID,
			Content:        &content,
		})
		require.NoError(t, err)
		msgIDs = append(msgIDs, msg.ID)
	}

	// Bob has two unread messages; Alice has none of her own.
	summaries, _, err := store.ListConversations(ctx, bob.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(2), summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "two", *summaries[0].LastMessage.Content)

	summaries, _, err = store.ListConversations(ctx, alice.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(0), summaries[0].UnreadCount)

	updated, err := store.MarkDelivered(ctx, bob.ID, msgIDs[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	// Idempotent.
	updated, err = store.MarkDelivered(ctx, bob.ID, msgIDs[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated)

	updated, err = store.MarkRead(ctx, bob.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	summaries, _, err = store.ListConversations(ctx, bob.ID, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summaries[0].UnreadCount)
}

func TestAttachmentLifecycle(t *testing.T) {
	store, ctx := setupTestStore(t)
	alice := registerUser(t, store, ctx, "alice")
	bob := registerUser(t, store, ctx, "bob")

	conv, _, err := store.ResolveDirectConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	filename := "cat.png"
	att, err := store.CreateAttachment(ctx, model.Attachment{
		StorageKey:  uuid.NewString(),
		Filename:    &filename,
		ContentType: "image/png",
		Size:        16,
		UserID:      alice.ID,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, att.ID)

	got, err := store.GetAttachmentByStorageKey(ctx, att.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, att.ID, got.ID)

	// Unlinked uploads are orphans until a message claims them.
	orphans, err := store.FindOrphanAttachments(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	content := "look at this"
	msg, err := store.SendMessage(ctx, alice.ID, registrystore.NewMessage{
		ConversationID: &conv.ID,
		Content:        &content,
	})
	require.NoError(t, err)

	// Another user cannot claim alice's upload.
	err = store.LinkAttachments(ctx, bob.ID, msg.ID, []string{att.StorageKey})
	require.NoError(t, err)
	orphans, err = store.FindOrphanAttachments(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, orphans, 1, "a foreign link attempt is a silent no-op")

	err = store.LinkAttachments(ctx, alice.ID, msg.ID, []string{att.StorageKey})
	require.NoError(t, err)
	orphans, err = store.FindOrphanAttachments(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	linked, err := store.GetAttachmentByStorageKey(ctx, att.StorageKey)
	require.NoError(t, err)
	require.NotNil(t, linked.MessageID)
	assert.Equal(t, msg.ID, *linked.MessageID)

	err = store.DeleteAttachments(ctx, []uuid.UUID{att.ID})
	require.NoError(t, err)
	_, err = store.GetAttachmentByStorageKey(ctx, att.StorageKey)
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}
