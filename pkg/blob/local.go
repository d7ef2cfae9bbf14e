package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalUploader writes blobs under a directory on disk. Used when S3 is
// disabled, e.g. local development.
type LocalUploader struct {
	dir string
}

func NewLocalUploader(dir string) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalUploader{dir: dir}, nil
}

// Upload writes the blob under the uploader's directory and returns a
// file URL pointing at it.
func (u *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(u.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return "file://" + path, nil
}

// MemoryUploader keeps blobs in memory. Test double.
type MemoryUploader struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{Objects: make(map[string][]byte)}
}

func (u *MemoryUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Objects[key] = body
	return "https://blob.test/" + key, nil
}

// FailingUploader always errors. Test double for the abort-before-write
// path.
type FailingUploader struct {
	Err error
}

func (u *FailingUploader) Upload(context.Context, string, []byte, string) (string, error) {
	return "", u.Err
}
