package blob

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Store is durable object storage keyed by bucket and key. Put overwrites.
type Store interface {
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, string, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
}

// SanitizeKey strips leading separators and dot segments so a key cannot escape its bucket.
func SanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean("/" + key))
	return strings.TrimPrefix(key, "/")
}
