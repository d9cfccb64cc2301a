package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// LocalStore keeps objects on disk under baseDir/bucket/key, for local runs.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) *LocalStore {
	if baseDir == "" {
		baseDir = "./output"
	}
	return &LocalStore{baseDir: baseDir}
}

func (l *LocalStore) path(bucket, key string) string {
	return filepath.Join(l.baseDir, SanitizeKey(bucket), filepath.FromSlash(SanitizeKey(key)))
}

func (l *LocalStore) Put(_ context.Context, bucket, key string, body []byte, _ string) error {
	path := l.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func (l *LocalStore) Get(_ context.Context, bucket, key string) ([]byte, string, error) {
	body, err := os.ReadFile(l.path(bucket, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("read %s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return body, mime.TypeByExtension(filepath.Ext(key)), nil
}

func (l *LocalStore) Exists(_ context.Context, bucket, key string) (bool, error) {
	_, err := os.Stat(l.path(bucket, key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *LocalStore) Copy(_ context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	in, err := os.Open(l.path(srcBucket, srcKey))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("copy %s/%s: %w", srcBucket, srcKey, ErrNotFound)
		}
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	dst := l.path(dstBucket, dstKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy bytes: %w", err)
	}
	return out.Close()
}
