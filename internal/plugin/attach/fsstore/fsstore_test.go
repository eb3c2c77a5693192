package fsstore

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSAttachmentStore {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.AttachmentDir = t.TempDir()
	store, err := load(config.WithContext(context.Background(), &cfg))
	require.NoError(t, err)
	return store.(*FSAttachmentStore)
}

func TestStoreRetrieveDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	result, err := store.Store(ctx, strings.NewReader("attachment bytes"), 1024, "text/plain")
	require.NoError(t, err)
	assert.NotEmpty(t, result.StorageKey)
	assert.Equal(t, int64(16), result.Size)

	r, err := store.Retrieve(ctx, result.StorageKey)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "attachment bytes", string(data))

	require.NoError(t, store.Delete(ctx, result.StorageKey))
	_, err = store.Retrieve(ctx, result.StorageKey)
	assert.Error(t, err)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Delete(ctx, result.StorageKey))
}

func TestStoreEnforcesMaxSize(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Store(context.Background(), strings.NewReader("0123456789"), 5, "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}

func TestPathRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	for _, key := range []string{"", "../etc/passwd", "a/b", `a\b`, ".."} {
		_, err := store.Retrieve(context.Background(), key)
		assert.Error(t, err, "key %q should be rejected", key)
	}
}

func TestGetSignedURLIsUnsupported(t *testing.T) {
	store := newTestStore(t)

	u, err := store.GetSignedURL(context.Background(), "any", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, u)
}
