// Package storage is the S3-compatible object store that receives the
// archive mirror of converted repositories.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by HeadObject when the key does not exist
var ErrNotFound = errors.New("object not found")

// Client defines the storage operations the archive mirror uses
type Client interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) error
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	EnsureBucket(ctx context.Context, bucket string) error
}

// ObjectInfo is what HeadObject reports about a stored object
type ObjectInfo struct {
	Key  string
	Size int64
}

// PutOptions carries the content type and user metadata of an upload
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Config holds the endpoint and credentials
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}
