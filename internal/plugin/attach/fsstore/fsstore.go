package fsstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registryattach "github.com/chirino/chat-service/internal/registry/attach"
	"github.com/google/uuid"
)

func init() {
	registryattach.Register(registryattach.Plugin{
		Name:   "fs",
		Loader: load,
	})
}

func load(ctx context.Context) (registryattach.AttachmentStore, error) {
	cfg := config.FromContext(ctx)
	dir := ""
	if cfg != nil {
		dir = strings.TrimSpace(cfg.AttachmentDir)
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "chat-service-attachments")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("fsstore: create attachment dir %q: %w", dir, err)
	}
	return &FSAttachmentStore{dir: dir}, nil
}

// FSAttachmentStore keeps attachment bytes as flat files under a single
// directory, one file per storage key.
type FSAttachmentStore struct {
	dir string
}

func (s *FSAttachmentStore) path(storageKey string) (string, error) {
	// Keys are generated UUIDs; reject anything that could escape the dir.
	if storageKey == "" || strings.ContainsAny(storageKey, "/\\") || strings.Contains(storageKey, "..") {
		return "", fmt.Errorf("fsstore: invalid storage key %q", storageKey)
	}
	return filepath.Join(s.dir, storageKey), nil
}

func (s *FSAttachmentStore) Store(ctx context.Context, data io.Reader, maxSize int64, contentType string) (*registryattach.StoreResult, error) {
	storageKey := uuid.New().String()
	path, err := s.path(storageKey)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("fsstore: create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, io.LimitReader(data, maxSize+1))
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("fsstore: write file: %w", err)
	}
	if size > maxSize {
		_ = os.Remove(path)
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxSize)
	}

	return &registryattach.StoreResult{
		StorageKey: storageKey,
		Size:       size,
	}, nil
}

func (s *FSAttachmentStore) Retrieve(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	path, err := s.path(storageKey)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fsstore: open file: %w", err)
	}
	return f, nil
}

func (s *FSAttachmentStore) Delete(ctx context.Context, storageKey string) error {
	path, err := s.path(storageKey)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsstore: remove file: %w", err)
	}
	return nil
}

// GetSignedURL is unsupported; downloads always stream through the service.
func (s *FSAttachmentStore) GetSignedURL(ctx context.Context, storageKey string, expiry time.Duration) (*url.URL, error) {
	return nil, nil
}
