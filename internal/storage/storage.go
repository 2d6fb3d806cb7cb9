package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/little-loop/tales/internal/config"
	"github.com/rs/zerolog/log"
)

// Uploader persists a generated artifact and returns its addressable URI.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string, contentLength int64) (string, error)
}

// New selects the blob backend: S3 when credentials are configured, the
// local UPLOAD_DIR fallback otherwise.
func New(cfg *config.Config) (Uploader, error) {
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		client, err := NewS3Client(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3PublicURL)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	log.Warn().Str("dir", cfg.UploadDir).Msg("S3 not configured, using local upload directory")
	return NewLocalStore(cfg.UploadDir), nil
}

// LocalStore writes artifacts under a local directory and addresses them as
// file:// URIs. Used in development and as the unconfigured fallback.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Upload writes the artifact to disk.
func (s *LocalStore) Upload(ctx context.Context, key string, data io.Reader, contentType string, contentLength int64) (string, error) {
	// Keys are slash-separated object names; keep them inside the root.
	clean := filepath.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	path := filepath.Join(s.dir, clean)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	log.Info().Str("path", abs).Str("content_type", contentType).Msg("Artifact written to local store")
	return "file://" + abs, nil
}
