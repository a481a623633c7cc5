// Package gcs stores downloaded files in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// FileStore writes objects to a configured bucket.
type FileStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed file store.
func New(client *storage.Client, cfg Config) (*FileStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &FileStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// WriteFile uploads content as dir/name and returns the relative path
// (without the bucket prefix).
func (s *FileStore) WriteFile(ctx context.Context, name, dir string, content []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("file name is required")
	}
	rel := path.Join(dir, name)
	object := rel
	if s.prefix != "" {
		object = path.Join(s.prefix, rel)
	}

	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = http.DetectContentType(content)
	if _, err := writer.Write(content); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return rel, nil
}
