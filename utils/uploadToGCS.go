package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// NewGCSClient initializes a Google Cloud Storage client.
func NewGCSClient(ctx context.Context, credJSON string) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// Explicit JSON is for local runs.
	if strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// GCSUploader writes call artifacts to one bucket and returns their access URL.
type GCSUploader struct {
	client *storage.Client
	bucket string
	urls   ObjectURLBuilder
}

func NewGCSUploader(client *storage.Client, bucket string, urls ObjectURLBuilder) (*GCSUploader, error) {
	if client == nil {
		return nil, errors.New("gcs client is nil")
	}
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	urls.Bucket = bucket
	return &GCSUploader{client: client, bucket: bucket, urls: urls}, nil
}

// CheckBucket fails when the bucket is missing or not accessible.
func (u *GCSUploader) CheckBucket(ctx context.Context) error {
	if _, err := u.client.Bucket(u.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket %q not found or not accessible: %v", u.bucket, err)
	}
	return nil
}

// Upload overwrites objectName; the same name always yields the same URL.
func (u *GCSUploader) Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	wc := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload %s to Google Cloud Storage: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}
	return u.urls.Build(objectName), nil
}
