// Package remotestore uploads finished chunk files to off-site object
// storage with tags, metadata, and a checksum the remote side can verify
// independently, grounded on app/remote_handler.py's AwsS3Oss and the
// teacher's internal/drivers/s3.go.
package remotestore

import "context"

// Store uploads a local file to a bucket/key with tags, metadata, and a
// content checksum attached, and deletes an uploaded object. The pipeline
// driver never calls Delete: its clear stage removes only the local file.
// checksum is computed by the caller (the pipeline driver, from its remote
// hasher, per spec §4.F); S3Store computes a SHA-256 of the file itself
// only when the caller passes an empty checksum.
type Store interface {
	Upload(ctx context.Context, path, bucket, key string, tags, metadata map[string]string, checksum []byte) error
	Delete(ctx context.Context, bucket, key string) error
}
