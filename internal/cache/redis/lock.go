package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tessera-trading/advisor/internal/domain"
)

// releaseScript deletes the lock key only when it still holds our
// token, so an expired-and-reacquired lock is never released by the
// previous holder.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX + TTL and a
// token-checked release. The scheduler takes these locks so two
// advisor instances never run the same task.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseScript),
	}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The
// returned release func is idempotent and uses its own timeout so the
// lock is freed even when the caller's context is already dead.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	redisKey := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	done := false
	return func() {
		if done {
			return
		}
		done = true
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.release.Run(rctx, lm.rdb, []string{redisKey}, token).Err()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
