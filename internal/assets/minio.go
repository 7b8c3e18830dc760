// Package assets stores avatar and banner binaries in an S3-compatible
// object store and hands back retrievable URLs. Deletion is best-effort
// by URL, so callers can clean up after a post without tracking object keys.
package assets

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return &Store{
		client:  client,
		bucket:  bucket,
		baseURL: scheme + "://" + endpoint,
	}, nil
}

// Upload stores the object and returns the URL it can be fetched from.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.baseURL + "/" + s.bucket + "/" + key, nil
}

// DeleteByURL removes the object a previously returned URL points at.
// URLs that do not belong to this store are ignored, not errors.
func (s *Store) DeleteByURL(ctx context.Context, rawURL string) error {
	key, ok := ObjectKey(s.bucket, rawURL)
	if !ok {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// ObjectKey extracts the object key from an asset URL of the form
// scheme://host/bucket/key. Returns false for URLs outside the bucket.
func ObjectKey(bucket, rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return "", false
	}
	path := strings.TrimPrefix(parsed.Path, "/")
	prefix := bucket + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(path, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}
