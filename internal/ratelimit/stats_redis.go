package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStats records admission decisions into Redis hashes for
// offline analysis: cumulative totals plus per-minute and per-class
// buckets. It is strictly observational; a nil receiver or client is
// a no-op, and failures are logged rather than surfaced.
type RedisStats struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStats wraps an existing client. Minute buckets expire after
// ttl; totals never do.
func NewRedisStats(rdb *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisStats {
	if prefix == "" {
		prefix = "palisade:admission"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStats{
		rdb:    rdb,
		prefix: strings.Trim(prefix, ":"),
		ttl:    ttl,
		logger: logger,
	}
}

// Record increments the counters for one decision.
func (s *RedisStats) Record(ctx context.Context, identity, class string, allowed bool) {
	if s == nil || s.rdb == nil {
		return
	}

	field := "denied"
	if allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, time.Now().UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	pipe.Expire(ctx, bucketKey, s.ttl)

	if class != "" {
		pipe.HIncrBy(ctx, s.prefix+":class", class+":"+field, 1)
	}

	if identity != "" {
		keyKey := s.prefix + ":identity:" + identity
		pipe.HIncrBy(ctx, keyKey, field, 1)
		pipe.Expire(ctx, keyKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("failed to record admission stats", slog.Any("error", err))
	}
}
