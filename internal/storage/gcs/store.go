// Package gcs provides an ObjectStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gstorage "cloud.google.com/go/storage"

	"github.com/dame-data/epc-ingest/internal/storage"
)

// Store writes and reads objects in a single GCS bucket. Authentication is
// handled via Application Default Credentials.
type Store struct {
	client *gstorage.Client
	bucket string
}

// New creates a GCS-backed store and verifies the bucket is reachable, so a
// misconfigured deployment fails at startup rather than mid-run.
func New(ctx context.Context, client *gstorage.Client, bucket string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("get bucket %q attributes: %w", bucket, err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Put uploads data and returns the gs:// URI.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte, meta storage.ObjectMeta) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if meta.CacheControl != "" {
		w.CacheControl = meta.CacheControl
	}
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("write object %s: %w (close writer: %v)", key, err, closeErr)
		}
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer for object %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// Get downloads an object body, mapping missing objects to storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether the object is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// Delete removes the object; deleting an absent key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
