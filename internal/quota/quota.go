package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Usage kinds tracked against the daily plan limits.
const (
	KindMedia = "media"
	KindAI    = "ai"
)

// ErrLimitExceeded is the recognizable rejection signal; callers route it to
// an upgrade prompt instead of a generic failure.
var ErrLimitExceeded = errors.New("daily usage limit exceeded")

// Limits holds the per-day allowance per kind. Zero means the plan forbids
// the feature.
type Limits struct {
	Media int
	AI    int
}

// RedisLimiter counts usage in Redis with one key per user, kind and UTC day.
type RedisLimiter struct {
	rdb    *redis.Client
	limits Limits
}

func NewRedisLimiter(rdb *redis.Client, limits Limits) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limits: limits}
}

func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, userID uuid.UUID, kind string) error {
	var limit int
	switch kind {
	case KindMedia:
		limit = l.limits.Media
	case KindAI:
		limit = l.limits.AI
	default:
		return fmt.Errorf("unknown usage kind %q", kind)
	}
	if limit <= 0 {
		return ErrLimitExceeded
	}

	key := fmt.Sprintf("chatly:usage:%s:%s:%s", userID, kind, time.Now().UTC().Format("2006-01-02"))
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("incrementing usage counter: %w", err)
	}
	if n == 1 {
		l.rdb.Expire(ctx, key, 24*time.Hour)
	}
	if n > int64(limit) {
		// Leave the counter where it was; the attempt did not go through.
		l.rdb.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}
