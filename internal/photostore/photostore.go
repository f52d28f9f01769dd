// Package photostore implements C4: MinIO-backed put/get/remove/download
// of identity photo blobs, adapted from the teacher's
// internal/storage/minio.go (same client, same bucket-scoped key
// operations) with the versioned-public-URL and legacy-path handling
// spec §4.4 adds on top.
package photostore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/fd-attendance/internal/apperr"
	"github.com/your-org/fd-attendance/internal/config"
)

// Store wraps a MinIO client scoped to one bucket.
type Store struct {
	client   *minio.Client
	bucket   string
	endpoint string
	useSSL   bool
}

// New connects to MinIO per cfg, grounded on the teacher's NewMinIOStore.
func New(cfg config.MinIOConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, endpoint: cfg.Endpoint, useSSL: cfg.UseSSL}, nil
}

// EnsureBucket creates the bucket if it doesn't already exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "check bucket", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return apperr.Wrap(apperr.Transient, "create bucket", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// isLegacyLocalPath reports whether path looks like a pre-migration
// on-disk path (e.g. "uploads/face/Alice.jpg") rather than an object key
// this store manages — spec §4.4's put/remove both special-case these:
// "best-effort removes previous_path unless it looks like a legacy local
// path" / "remove... ignores legacy local paths".
func isLegacyLocalPath(path string) bool {
	return path != "" && (strings.HasPrefix(path, "/") || strings.HasPrefix(path, "uploads/") || strings.HasPrefix(path, "./"))
}

// Put uploads crop under a personID-scoped key, best-effort removing
// previousPath first (skipping legacy local paths), and returns the
// stored key plus a cache-busted public URL.
func (s *Store) Put(ctx context.Context, personID string, crop []byte, previousPath string) (path, publicURL string, err error) {
	if previousPath != "" && !isLegacyLocalPath(previousPath) {
		_ = s.client.RemoveObject(ctx, s.bucket, previousPath, minio.RemoveObjectOptions{})
	}

	key := fmt.Sprintf("identities/%s.jpg", personID)
	reader := bytes.NewReader(crop)
	if _, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(len(crop)), minio.PutObjectOptions{
		ContentType: "image/jpeg",
	}); err != nil {
		return "", "", apperr.Wrap(apperr.Transient, fmt.Sprintf("put object %s", key), err)
	}

	return key, s.GetURL(key, 0), nil
}

// GetURL builds a public URL for key with a cache-busting version query
// parameter. version defaults to the current epoch seconds when 0.
func (s *Store) GetURL(key string, version int64) string {
	if key == "" {
		return ""
	}
	if version == 0 {
		version = time.Now().Unix()
	}
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s?v=%d", scheme, s.endpoint, s.bucket, key, version)
}

// Remove deletes key, ignoring legacy local paths (nothing to clean up
// there) and tolerating an already-missing object.
func (s *Store) Remove(ctx context.Context, path string) error {
	if path == "" || isLegacyLocalPath(path) {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return apperr.Wrap(apperr.Transient, fmt.Sprintf("remove object %s", path), err)
	}
	return nil
}

// Download fetches the raw bytes stored at path.
func (s *Store) Download(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, fmt.Sprintf("get object %s", path), err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, fmt.Sprintf("read object %s", path), err)
	}
	return data, nil
}
