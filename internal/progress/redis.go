package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// HashStore is the subset of the Redis client used by RedisTracker.
type HashStore interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisTracker stores progress as a Redis hash per job so any API
// replica can stream it.
type RedisTracker struct {
	store  HashStore
	prefix string
	ttl    time.Duration
}

func NewRedisTracker(store HashStore, prefix string, ttl time.Duration) *RedisTracker {
	return &RedisTracker{store: store, prefix: prefix, ttl: ttl}
}

func (r *RedisTracker) key(id string) string {
	return r.prefix + "progress:" + id
}

func (r *RedisTracker) Update(ctx context.Context, id string, p Progress) error {
	key := r.key(id)
	err := r.store.HSet(ctx, key,
		"status", p.Status,
		"message", p.Message,
		"percentage", strconv.Itoa(p.Percentage),
		"completed", strconv.FormatBool(p.Completed),
		"error", strconv.FormatBool(p.Error),
	).Err()
	if err != nil {
		return fmt.Errorf("store progress %s: %w", id, err)
	}
	if r.ttl > 0 {
		if err := r.store.Expire(ctx, key, r.ttl).Err(); err != nil {
			return fmt.Errorf("expire progress %s: %w", id, err)
		}
	}
	return nil
}

func (r *RedisTracker) Get(ctx context.Context, id string) (Progress, error) {
	fields, err := r.store.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return Progress{}, fmt.Errorf("load progress %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Progress{}, ErrNotFound
	}

	pct, _ := strconv.Atoi(fields["percentage"])
	completed, _ := strconv.ParseBool(fields["completed"])
	failed, _ := strconv.ParseBool(fields["error"])
	return Progress{
		Status:     fields["status"],
		Message:    fields["message"],
		Percentage: pct,
		Completed:  completed,
		Error:      failed,
	}, nil
}

func (r *RedisTracker) Delete(ctx context.Context, id string) error {
	return r.store.Del(ctx, r.key(id)).Err()
}
