package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/zifrone/contact/internal/config"
)

const messageContentType = "message/rfc822"

// ObjectWriter stores raw message copies
type ObjectWriter interface {
	Put(ctx context.Context, key string, body []byte) error
}

// ObjectStore keeps raw .eml copies in an S3 compatible bucket
type ObjectStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewObjectStore creates an S3 client from the storage configuration.
// Static credentials are used when set. optFns can override anything else.
func NewObjectStore(cfg config.StorageConfig, optFns ...func(*s3.Options)) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: S3_BUCKET is required")
	}

	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		endpointURL := cfg.Endpoint
		if !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
			endpointURL = "https://" + endpointURL
		}
		opts.BaseEndpoint = aws.String(endpointURL)
	}

	return &ObjectStore{
		client: s3.New(opts, optFns...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// MessageKey builds the object key for a submission: <prefix>/YYYY/MM/DD/<id>.eml
func MessageKey(prefix, id string, receivedAt time.Time) string {
	return path.Join(prefix, receivedAt.UTC().Format("2006/01/02"), id+".eml")
}

// Put uploads one message
func (s *ObjectStore) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(messageContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Get downloads one message
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// DeleteByKeys removes objects in batches of 1000 and returns how many were deleted
func (s *ObjectStore) DeleteByKeys(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ids := make([]types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		ids[i] = types.ObjectIdentifier{Key: aws.String(key)}
	}

	deleted := 0
	const batchSize = 1000
	for i := 0; i < len(ids); i += batchSize {
		end := min(i+batchSize, len(ids))
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids[i:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete objects: %w", err)
		}
		deleted += (end - i) - len(out.Errors)
	}
	return deleted, nil
}
