package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/docsift/internal/core"
)

// LocalClient keeps objects as files under a root directory. API and worker
// must share the directory.
type LocalClient struct {
	root string
}

func NewLocalClient(root string) (*LocalClient, error) {
	if root == "" {
		return nil, fmt.Errorf("OBJECT_STORE_DIR not set")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	return &LocalClient{root: abs}, nil
}

func (c *LocalClient) path(key string) (string, error) {
	p := filepath.Join(c.root, filepath.FromSlash(key))
	if p != c.root && !strings.HasPrefix(p, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes storage root", key)
	}
	return p, nil
}

func (c *LocalClient) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	p, err := c.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("local upload failed: %w", err)
	}
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("local upload failed: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("local upload failed: %w", err)
	}
	return "file://" + filepath.ToSlash(p), nil
}

func (c *LocalClient) GetFile(_ context.Context, key string) ([]byte, error) {
	p, err := c.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("local get failed: %w", err)
	}
	return b, nil
}

func (c *LocalClient) DeleteFile(_ context.Context, key string) error {
	p, err := c.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local delete failed: %w", err)
	}
	return nil
}

var _ core.ObjectClient = (*LocalClient)(nil)
