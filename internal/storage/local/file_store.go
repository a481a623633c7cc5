// Package local writes downloaded files under a base directory.
package local

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local file store.
type Config struct {
	// BaseDir is the root directory files are written under.
	BaseDir string `mapstructure:"base_dir"`
}

// FileStore writes files to the local filesystem.
type FileStore struct {
	baseDir string
}

// New validates that BaseDir exists (creating it if needed) and is writable.
func New(cfg Config) (*FileStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}
	return &FileStore{baseDir: cfg.BaseDir}, nil
}

// WriteFile stores content at dir/name and returns that relative path.
// Existing files are overwritten; names are content-derived so rewrites
// carry identical bytes.
func (s *FileStore) WriteFile(ctx context.Context, name, dir string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("file name is required")
	}
	rel := path.Join(dir, name)

	full := filepath.Join(s.baseDir, filepath.FromSlash(rel))
	base := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), base+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, content, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return rel, nil
}
