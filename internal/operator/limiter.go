package operator

import (
	"context"
	"time"

	"tty-relay/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter caps concurrent sessions per operator. A slot is held from call
// placement until the session reaches a terminal status.
type Limiter interface {
	Acquire(ctx context.Context, operator, slotID string) (bool, error)
	Release(ctx context.Context, operator, slotID string) error
}

// NopLimiter never refuses a slot.
type NopLimiter struct{}

func (NopLimiter) Acquire(context.Context, string, string) (bool, error) { return true, nil }
func (NopLimiter) Release(context.Context, string, string) error { return nil }

const (
	defaultSlotTTL   = 4 * time.Hour
	defaultKeyPrefix = "tty-relay:operator-calls:"
)

// RedisLimiter keeps one Redis set of held slots per operator so several relay
// processes share the cap.
type RedisLimiter struct {
	rdb   redis.Scripter
	limit int

	// TTL bounds how long a leaked slot survives a crashed process.
	TTL    time.Duration
	Prefix string
}

func NewRedisLimiter(rdb redis.Scripter, limit int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, TTL: defaultSlotTTL, Prefix: defaultKeyPrefix}
}

func (l *RedisLimiter) Acquire(ctx context.Context, operator, slotID string) (bool, error) {
	return utils.AcquireSlot(ctx, l.rdb, l.key(operator), slotID, l.limit, l.TTL)
}

func (l *RedisLimiter) Release(ctx context.Context, operator, slotID string) error {
	return utils.ReleaseSlot(ctx, l.rdb, l.key(operator), slotID)
}

func (l *RedisLimiter) key(operator string) string {
	return l.Prefix + operator
}
