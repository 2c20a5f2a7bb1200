package ingestion

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// LineDedupe is a minimal idempotency guard keyed on (file path, line
// number): Seen reports whether a line was already POSTed, Mark records
// that it now has been. It is a second guard alongside the on-disk
// CheckpointStore per spec.md §4.4/§9 — absent, checkpointing alone
// provides idempotence.
type LineDedupe interface {
	Seen(ctx context.Context, path string, line int) (bool, error)
	Mark(ctx context.Context, path string, line int) error
}

// RedisLineDedupe is a Redis-backed LineDedupe, grounded on the teacher's
// internal/orchestrator/dedupe.go RedisDedupeStore (same
// ping-on-construct, Get/Set-with-TTL shape).
type RedisLineDedupe struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLineDedupe connects to addr and pings it to validate the
// connection before returning.
func NewRedisLineDedupe(addr string, ttl time.Duration) (*RedisLineDedupe, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLineDedupe{client: c, ttl: ttl}, nil
}

func dedupeKey(path string, line int) string {
	return fmt.Sprintf("memoryd:ingest:%s:%d", path, line)
}

// Seen reports whether path/line was already marked posted.
func (d *RedisLineDedupe) Seen(ctx context.Context, path string, line int) (bool, error) {
	_, err := d.client.Get(ctx, dedupeKey(path, line)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mark records path/line as posted, with the dedupe window's TTL.
func (d *RedisLineDedupe) Mark(ctx context.Context, path string, line int) error {
	return d.client.Set(ctx, dedupeKey(path, line), "1", d.ttl).Err()
}

// Close closes the underlying Redis client.
func (d *RedisLineDedupe) Close() error {
	return d.client.Close()
}
