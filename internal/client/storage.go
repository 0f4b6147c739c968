package client

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// StorageClient writes archive objects to a Google Cloud Storage bucket.
type StorageClient struct {
	client     *storage.Client
	bucketName string
}

// NewStorageClient creates a new storage client using application default credentials.
func NewStorageClient(ctx context.Context, bucketName string) (*StorageClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &StorageClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Close closes the client.
func (c *StorageClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// PutObject uploads data under key with the given content type and metadata
// and returns its gs:// URL.
func (c *StorageClient) PutObject(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	w := c.client.Bucket(c.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", key, err)
	}

	return ObjectURL(c.bucketName, key), nil
}

// ObjectURL is the gs:// URL of key in bucket.
func ObjectURL(bucket, key string) string {
	return "gs://" + bucket + "/" + key
}
