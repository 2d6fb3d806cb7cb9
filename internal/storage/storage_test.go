package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/little-loop/tales/internal/config"
)

func TestLocalStore_Upload(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)

	uri, err := store.Upload(context.Background(), "stories/abc/pages/1/image.png",
		strings.NewReader("fake-png-bytes"), "image/png", 14)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Errorf("uri %q", uri)
	}

	data, err := os.ReadFile(filepath.Join(dir, "stories", "abc", "pages", "1", "image.png"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "fake-png-bytes" {
		t.Errorf("content %q", data)
	}
}

func TestLocalStore_KeyEscapeContained(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)

	uri, err := store.Upload(context.Background(), "../../outside.txt",
		strings.NewReader("x"), "text/plain", 1)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.Contains(uri, dir) {
		t.Errorf("upload escaped the root: %q", uri)
	}
	if _, err := os.Stat(filepath.Join(dir, "..", "..", "outside.txt")); err == nil {
		t.Error("traversal key must not write outside the upload dir")
	}
}

func TestNew_FallsBackToLocal(t *testing.T) {
	uploader, err := New(&config.Config{UploadDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := uploader.(*LocalStore); !ok {
		t.Errorf("expected LocalStore without S3 credentials, got %T", uploader)
	}
}
