package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Sink stores exported objects.
type Sink interface {
	// Upload stores data under objectName and returns its location.
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) (string, error)
}

// LocalSink writes objects below a base directory.
type LocalSink struct {
	baseDir string
}

// NewLocalSink creates the base directory if needed.
func NewLocalSink(baseDir string) (*LocalSink, error) {
	if baseDir == "" {
		return nil, errors.New("local sink requires a base directory")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory %q: %w", baseDir, err)
	}
	return &LocalSink{baseDir: baseDir}, nil
}

// Upload writes data to baseDir/objectName.
func (s *LocalSink) Upload(_ context.Context, objectName string, data io.Reader, _ string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectName))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object name %q escapes the export directory", objectName)
	}
	fullPath := filepath.Join(s.baseDir, clean)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	return fullPath, nil
}

// GCSSink writes objects to a Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink creates a sink for bucket. Object names are joined below prefix.
func NewGCSSink(client *storage.Client, bucket, prefix string) *GCSSink {
	return &GCSSink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Upload streams data into the bucket.
func (s *GCSSink) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) (string, error) {
	name := path.Join(s.prefix, objectName)
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
