package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and a token-checked
// unlock. The executor holds it around every engine call so two bot
// processes never drive the same custody at once. Lock values name the
// holding process, so a refusal says who has it.
type LockManager struct {
	c        *Client
	owner    string
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	host, _ := os.Hostname()
	return &LockManager{
		c:        c,
		owner:    host + ":" + strconv.Itoa(os.Getpid()),
		unlockSc: redis.NewScript(unlockLua),
	}
}

// Acquire takes the lock for key. It returns an error wrapping
// domain.ErrLockHeld when another holder has it. The returned unlock func
// is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := lm.owner + "/" + uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		holder, err := lm.c.rdb.Get(ctx, lk).Result()
		if err != nil || holder == "" {
			// Expired between SETNX and GET, or unreadable.
			return nil, domain.ErrLockHeld
		}
		return nil, fmt.Errorf("%w by %s", domain.ErrLockHeld, holderOf(holder))
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// On failure the TTL releases it.
			_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// holderOf strips the per-acquire nonce from a lock value.
func holderOf(token string) string {
	if i := strings.LastIndexByte(token, '/'); i >= 0 {
		return token[:i]
	}
	return token
}

var _ domain.LockManager = (*LockManager)(nil)
