package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := time.UnixMilli(1_700_000_000_000)
	bucket := NewTokenBucket(client, capacity, refill, time.Minute)
	bucket.now = func() time.Time { return clock }
	return bucket, &clock
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 2, 1)

	allowed, _, err := bucket.Allow(ctx, SubmitKey)
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, SubmitKey)
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, SubmitKey)
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	ctx := context.Background()
	bucket, clock := newBucket(t, 1, 2)

	if allowed, _, _ := bucket.Allow(ctx, SubmitKey); !allowed {
		t.Fatalf("expected first token allowed")
	}
	if allowed, _, _ := bucket.Allow(ctx, SubmitKey); allowed {
		t.Fatalf("expected empty bucket to reject")
	}

	*clock = clock.Add(250 * time.Millisecond)
	if allowed, _, _ := bucket.Allow(ctx, SubmitKey); allowed {
		t.Fatalf("half a token should not be enough")
	}

	*clock = clock.Add(250 * time.Millisecond)
	if allowed, _, _ := bucket.Allow(ctx, SubmitKey); !allowed {
		t.Fatalf("expected refilled token after 500ms at 2/s")
	}
}

func TestNilBucketAllows(t *testing.T) {
	var bucket *TokenBucket
	allowed, _, err := bucket.Allow(context.Background(), SubmitKey)
	if err != nil || !allowed {
		t.Fatalf("nil bucket should allow, got allowed=%v err=%v", allowed, err)
	}
}
