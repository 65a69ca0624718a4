package remotestore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Store implements Store against S3-compatible object storage, grounded
// on the teacher's S3Driver (internal/drivers/s3.go) for client
// construction and on app/remote_handler.py's AwsS3Oss for the
// per-upload checksum/tagging/metadata shape.
type S3Store struct {
	client *s3.Client
	log    *zap.Logger
}

// NewS3Store builds an S3Store against a custom endpoint with static
// credentials, the way the teacher's NewS3Driver does for S3-compatible
// backends that are not AWS itself.
func NewS3Store(ctx context.Context, endpoint, accessKey, secretKey, region string, usePathStyle bool, log *zap.Logger) (*S3Store, error) {
	creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(creds),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("remotestore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = usePathStyle
	})

	return &S3Store{client: client, log: log}, nil
}

// Upload puts path at bucket/key, attaching the driver-supplied SHA-256
// content checksum (so S3 itself rejects a corrupted-in-transit upload),
// plus tags and metadata the way app/backup_manager.py annotates each
// uploaded part with its dataset, backup type, and part index.
func (s *S3Store) Upload(ctx context.Context, path, bucket, key string, tags, metadata map[string]string, checksum []byte) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("remotestore: read %s: %w", path, err)
	}
	if len(checksum) == 0 {
		sum := sha256.Sum256(data)
		checksum = sum[:]
	}
	encodedChecksum := base64.StdEncoding.EncodeToString(checksum)

	input := &s3.PutObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(key),
		Body:              strings.NewReader(string(data)),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(encodedChecksum),
	}
	if len(tags) > 0 {
		pairs := make([]string, 0, len(tags))
		for k, v := range tags {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
		}
		input.Tagging = aws.String(strings.Join(pairs, "&"))
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("remotestore: put object %s/%s: %w", bucket, key, err)
	}

	s.log.Info("uploaded chunk",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.String("sha256_base64", encodedChecksum),
	)
	return nil
}

// Delete removes bucket/key. The pipeline's clear stage does not call it;
// clear deletes only the local encrypted chunk.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("remotestore: delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}
