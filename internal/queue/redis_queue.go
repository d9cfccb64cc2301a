package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue emulates an SQS queue on Redis for local runs: ready list,
// delayed set, in-flight set with visibility deadlines, and one hash per message.
type RedisQueue struct {
	client        *redis.Client
	name          string
	readyKey      string
	scheduledKey  string
	inflightKey   string
	msgPrefix     string
	visibilityTTL time.Duration
	pollInterval  time.Duration
}

// NewRedisQueue builds a named queue on client.
func NewRedisQueue(client *redis.Client, name string, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	base := "queue:" + name
	return &RedisQueue{
		client:        client,
		name:          name,
		readyKey:      base + ":ready",
		scheduledKey:  base + ":scheduled",
		inflightKey:   base + ":inflight",
		msgPrefix:     base + ":msg:",
		visibilityTTL: visibility,
		pollInterval:  250 * time.Millisecond,
	}
}

func (q *RedisQueue) Name() string { return q.name }

// Send stores the body and places the message in the ready list, or the delayed set when delay > 0.
func (q *RedisQueue) Send(ctx context.Context, body string, delay time.Duration) error {
	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.msgPrefix+id, "body", body, "receives", 0)
	if delay > 0 {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(time.Now().Add(delay).UnixMilli()), Member: id})
	} else {
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Receive returns up to max messages, polling until one is available or wait elapses.
func (q *RedisQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	for {
		now := time.Now()
		if _, err := q.promote(ctx, q.scheduledKey, now, 100); err != nil {
			return nil, fmt.Errorf("promote delayed: %w", err)
		}
		if _, err := q.promote(ctx, q.inflightKey, now, 100); err != nil {
			return nil, fmt.Errorf("requeue expired: %w", err)
		}
		msgs, err := q.dequeue(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 || !time.Now().Before(deadline) {
			return msgs, nil
		}
		sleep := q.pollInterval
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (q *RedisQueue) dequeue(ctx context.Context, max int) ([]Message, error) {
	args := []any{q.msgPrefix, time.Now().Add(q.visibilityTTL).UnixMilli(), max}
	for i := 0; i < max; i++ {
		args = append(args, uuid.NewString())
	}
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, args...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	arr, ok := res.([]any)
	if !ok || len(arr)%4 != 0 {
		return nil, fmt.Errorf("unexpected reply from dequeue script: %T", res)
	}
	out := make([]Message, 0, len(arr)/4)
	for i := 0; i < len(arr); i += 4 {
		id, _ := arr[i].(string)
		body, _ := arr[i+1].(string)
		receives, _ := arr[i+2].(int64)
		token, _ := arr[i+3].(string)
		out = append(out, Message{
			ID:            id,
			Body:          body,
			ReceiptHandle: id + ":" + token,
			ReceiveCount:  int(receives),
		})
	}
	return out, nil
}

// Delete acknowledges one delivery. A handle from an earlier delivery, or of an already deleted message, is a no-op.
func (q *RedisQueue) Delete(ctx context.Context, receiptHandle string) error {
	id, token, ok := strings.Cut(receiptHandle, ":")
	if !ok || id == "" || token == "" {
		return fmt.Errorf("delete message: invalid receipt handle %q", receiptHandle)
	}
	if err := deleteScript.Run(ctx, q.client, []string{q.inflightKey}, q.msgPrefix, id, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// promote moves members of set whose score is due back onto the ready list.
// Each id is pushed only by the caller whose ZREM removed it, so concurrent
// pollers never deliver the same message twice.
func (q *RedisQueue) promote(ctx context.Context, set string, now time.Time, limit int64) ([]string, error) {
	res, err := promoteScript.Run(ctx, q.client, []string{set, q.readyKey}, now.UnixMilli(), limit).StringSlice()
	if err == redis.Nil {
		return nil, nil
	}
	return res, err
}

// ReadyDepth returns the number of messages waiting to be received.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InFlightDepth returns the number of received, unacknowledged messages.
func (q *RedisQueue) InFlightDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local ready = KEYS[1]
local inflight = KEYS[2]
local prefix = ARGV[1]
local deadline = ARGV[2]
local max = tonumber(ARGV[3])
local out = {}
for i=1,max do
  local id = redis.call('LPOP', ready)
  if not id then break end
  local key = prefix .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', inflight, deadline, id)
    local receives = redis.call('HINCRBY', key, 'receives', 1)
    redis.call('HSET', key, 'token', ARGV[3+i])
    table.insert(out, id)
    table.insert(out, redis.call('HGET', key, 'body'))
    table.insert(out, receives)
    table.insert(out, ARGV[3+i])
  end
end
return out
`)

var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local moved = {}
for _, id in ipairs(due) do
  if redis.call('ZREM', KEYS[1], id) == 1 then
    redis.call('RPUSH', KEYS[2], id)
    table.insert(moved, id)
  end
end
return moved
`)

var deleteScript = redis.NewScript(`
local key = ARGV[1] .. ARGV[2]
if redis.call('HGET', key, 'token') ~= ARGV[3] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('DEL', key)
return 1
`)
