package attachments_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/plugin/route/attachments"
	pgstore "github.com/chirino/chat-service/internal/plugin/store/postgres"
	"github.com/chirino/chat-service/internal/plugin/store/sqlite"
	registryattach "github.com/chirino/chat-service/internal/registry/attach"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memAttachmentStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemAttachmentStore() *memAttachmentStore {
	return &memAttachmentStore{
		data: map[string][]byte{},
	}
}

func (s *memAttachmentStore) Store(_ context.Context, r io.Reader, maxSize int64, _ string) (*registryattach.StoreResult, error) {
	buf := bytes.Buffer{}
	n, err := io.CopyN(&buf, r, maxSize+1)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n > maxSize {
		return nil, fmt.Errorf("file exceeds maximum size")
	}
	key := uuid.NewString()
	s.mu.Lock()
	s.data[key] = buf.Bytes()
	s.mu.Unlock()
	return &registryattach.StoreResult{
		StorageKey: key,
		Size:       int64(buf.Len()),
	}, nil
}

func (s *memAttachmentStore) Retrieve(_ context.Context, storageKey string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.data[storageKey]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memAttachmentStore) Delete(_ context.Context, storageKey string) error {
	s.mu.Lock()
	delete(s.data, storageKey)
	s.mu.Unlock()
	return nil
}

func (s *memAttachmentStore) GetSignedURL(_ context.Context, _ string, _ time.Duration) (*url.URL, error) {
	return nil, nil
}

func setupAttachmentsRouter(t *testing.T) (*gin.Engine, uuid.UUID) {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))

	cfg := config.DefaultConfig()
	cfg.AttachmentMaxSize = 64
	store := pgstore.New(db, &cfg)

	user, err := store.RegisterUser(context.Background(), registrystore.NewUser{
		Name:        "alice",
		Email:       "alice@example.com",
		PhoneNumber: "+15550100001",
	})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := func(c *gin.Context) { c.Set(security.ContextKeyUserID, user.ID); c.Next() }
	attachments.MountRoutes(router, store, newMemAttachmentStore(), &cfg, auth)
	return router, user.ID
}

func uploadFile(t *testing.T, router *gin.Engine, filename, contentType, content string) *httptest.ResponseRecorder {
	t.Helper()
	form := &bytes.Buffer{}
	writer := multipart.NewWriter(form)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/attachments", form)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadAndDownload(t *testing.T) {
	router, _ := setupAttachmentsRouter(t)

	upload := uploadFile(t, router, "hello.txt", "text/plain", "hello-attachment")
	require.Equal(t, http.StatusCreated, upload.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(upload.Body.Bytes(), &created))
	require.Equal(t, "hello.txt", created["filename"])
	require.Equal(t, "text/plain", created["mimeType"])
	require.Equal(t, float64(16), created["size"])
	downloadURL, _ := created["url"].(string)
	require.Contains(t, downloadURL, "/v1/attachments/")

	req := httptest.NewRequest(http.MethodGet, downloadURL, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello-attachment", w.Body.String())
	require.Contains(t, w.Header().Get("Content-Disposition"), "hello.txt")
}

func TestUploadRequiresFilePart(t *testing.T) {
	router, _ := setupAttachmentsRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/attachments", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsOversizedFiles(t *testing.T) {
	router, _ := setupAttachmentsRouter(t)

	big := bytes.Repeat([]byte("x"), 100)
	upload := uploadFile(t, router, "big.bin", "application/octet-stream", string(big))
	require.Equal(t, http.StatusRequestEntityTooLarge, upload.Code)
}

func TestDownloadUnknownKey(t *testing.T) {
	router, _ := setupAttachmentsRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/attachments/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
