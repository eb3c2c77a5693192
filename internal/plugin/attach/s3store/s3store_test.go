package s3store

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/testutil/tests3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *S3AttachmentStore {
	t.Helper()
	bucket := tests3.StartS3(t)

	cfg := config.DefaultConfig()
	cfg.S3Bucket = bucket
	cfg.S3Prefix = "attachments"
	cfg.S3UsePathStyle = true

	store, err := load(config.WithContext(context.Background(), &cfg))
	require.NoError(t, err)
	return store.(*S3AttachmentStore)
}

func TestS3StoreRetrieveDelete(t *testing.T) {
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
}

func TestS3StoreEnforcesMaxSize(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Store(context.Background(), strings.NewReader("0123456789"), 5, "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}

func TestS3GetSignedURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	result, err := store.Store(ctx, strings.NewReader("signed url bytes"), 1024, "text/plain")
	require.NoError(t, err)

	u, err := store.GetSignedURL(ctx, result.StorageKey, 5*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Contains(t, u.Path, result.StorageKey)
	assert.Contains(t, u.RawQuery, "X-Amz-Signature")
}

func TestS3ExternalEndpointRewrite(t *testing.T) {
	store := newTestStore(t)
	store.externalEndpoint = "https://cdn.example.com/s3"
	ctx := context.Background()

	result, err := store.Store(ctx, strings.NewReader("rewritten"), 1024, "text/plain")
	require.NoError(t, err)

	u, err := store.GetSignedURL(ctx, result.StorageKey, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "cdn.example.com", u.Host)
	assert.True(t, strings.HasPrefix(u.Path, "/s3/"), "path %q should carry the external prefix", u.Path)
}
