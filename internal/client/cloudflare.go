package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// CloudflareClient stores archived recordings and reports in Cloudflare R2.
type CloudflareClient struct {
	s3Client  S3API
	bucket    string
	publicURL string
}

// NewCloudflareClient creates a new Cloudflare R2 client.
func NewCloudflareClient(ctx context.Context, accessKeyID, secretKey, endpoint, bucketName, publicURL string) (*CloudflareClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return NewCloudflareClientWith(s3Client, bucketName, publicURL), nil
}

// NewCloudflareClientWith builds a client around an existing S3 API.
func NewCloudflareClientWith(api S3API, bucketName, publicURL string) *CloudflareClient {
	return &CloudflareClient{
		s3Client:  api,
		bucket:    bucketName,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// PutObject uploads data under key and returns where it can be fetched: the
// public URL when one is configured, otherwise an r2:// locator.
func (c *CloudflareClient) PutObject(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to R2: %w", key, err)
	}

	if c.publicURL == "" {
		return "r2://" + c.bucket + "/" + key, nil
	}
	return c.publicURL + "/" + key, nil
}
