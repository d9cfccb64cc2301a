// Package idempotency guards job submission with per-document claims in Redis.
//
// A claim moves through two states under one key: "pending:<owner>" while a
// submitter is calling the analysis service, then "job:<id>" once a job exists.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrClaimHeld means another submitter is submitting the same document right now.
var ErrClaimHeld = errors.New("idempotency claim held by another submitter")

const (
	pendingPrefix = "pending:"
	jobPrefix     = "job:"
)

// Claim is the outcome of a successful Acquire.
type Claim struct {
	Key   string
	Owner string
	// JobID is set when the document was already submitted; the caller reuses it and skips the submit.
	JobID string
}

// Existing reports whether the claim refers to an already submitted job.
func (c Claim) Existing() bool { return c.JobID != "" }

// Claimer takes and resolves claims. A nil *Claimer grants every claim and records nothing.
type Claimer struct {
	client     *redis.Client
	pendingTTL time.Duration
	jobTTL     time.Duration
}

// NewClaimer builds a claimer. pendingTTL bounds how long a crashed submitter blocks
// others; jobTTL is how long a recorded job id is reused.
func NewClaimer(client *redis.Client, pendingTTL, jobTTL time.Duration) *Claimer {
	return &Claimer{client: client, pendingTTL: pendingTTL, jobTTL: jobTTL}
}

func redisKey(key string) string { return "idem:" + key }

// Acquire claims key. It returns ErrClaimHeld when a pending claim belongs to someone else.
func (c *Claimer) Acquire(ctx context.Context, key string) (Claim, error) {
	owner := uuid.NewString()
	if c == nil {
		return Claim{Key: key, Owner: owner}, nil
	}
	ok, err := c.client.SetNX(ctx, redisKey(key), pendingPrefix+owner, c.pendingTTL).Result()
	if err != nil {
		return Claim{}, fmt.Errorf("acquire claim: %w", err)
	}
	if ok {
		return Claim{Key: key, Owner: owner}, nil
	}

	val, err := c.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return c.Acquire(ctx, key)
	}
	if err != nil {
		return Claim{}, fmt.Errorf("read claim: %w", err)
	}
	if jobID, found := strings.CutPrefix(val, jobPrefix); found {
		return Claim{Key: key, JobID: jobID}, nil
	}
	return Claim{}, ErrClaimHeld
}

// Complete records the job id for the claim so later duplicates reuse it.
func (c *Claimer) Complete(ctx context.Context, claim Claim, jobID string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Set(ctx, redisKey(claim.Key), jobPrefix+jobID, c.jobTTL).Err(); err != nil {
		return fmt.Errorf("complete claim: %w", err)
	}
	return nil
}

// Release drops a pending claim owned by claim.Owner so a redelivery can try again.
// Recorded job ids and other owners' claims are left alone.
func (c *Claimer) Release(ctx context.Context, claim Claim) error {
	if c == nil || claim.Existing() {
		return nil
	}
	if err := releaseScript.Run(ctx, c.client, []string{redisKey(claim.Key)}, pendingPrefix+claim.Owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
