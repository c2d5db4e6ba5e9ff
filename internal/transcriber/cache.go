package transcriber

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"lukechampine.com/blake3"
)

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedBackend memoises segment transcripts in Redis, keyed by the
// segment audio hash, the target, the language and the decoding parameters. Cache failures are
// logged and the call falls through to the wrapped backend.
type CachedBackend struct {
	next   Backend
	store  Store
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedBackend wraps next with a Redis-backed transcript cache.
func NewCachedBackend(next Backend, store Store, prefix string, ttl time.Duration, logger *slog.Logger) *CachedBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedBackend{next: next, store: store, prefix: prefix, ttl: ttl, logger: logger}
}

// CacheKey derives the cache key for a request.
func (c *CachedBackend) CacheKey(req Request) string {
	sum := blake3.Sum256(req.Audio)
	parts := []string{
		strings.TrimSuffix(c.prefix, ":"),
		"segment",
		req.Target.Name,
		req.Target.Model,
		req.Params.Language,
		decodingKey(req.Params),
		hex.EncodeToString(sum[:]),
	}
	return strings.Join(parts, ":")
}

// decodingKey encodes the decoding parameters that change backend output.
func decodingKey(p Params) string {
	return "t" + strconv.FormatFloat(p.Temperature, 'g', -1, 64) +
		"-s" + strconv.Itoa(p.Seed) +
		"-rp" + strconv.FormatFloat(p.RepetitionPenalty, 'g', -1, 64)
}

func (c *CachedBackend) Transcribe(ctx context.Context, req Request) (string, error) {
	key := c.CacheKey(req)

	text, err := c.store.Get(ctx, key).Result()
	switch {
	case err == nil:
		c.logger.Debug("segment cache hit", "segment", req.Index, "key", key)
		return text, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("segment cache read failed", "segment", req.Index, "error", err)
	}

	text, err = c.next.Transcribe(ctx, req)
	if err != nil || text == "" {
		return text, err
	}
	if err := c.store.Set(ctx, key, text, c.ttl).Err(); err != nil {
		c.logger.Warn("segment cache write failed", "segment", req.Index, "error", err)
	}
	return text, nil
}
