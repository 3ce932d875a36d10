package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// unlockScript deletes the key only when it still holds our token, so an
// expired lock taken over by another holder is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-instance Redis lock (SET NX PX + token-checked delete).
type Locker struct {
	client *Client
	logger *zap.Logger
}

func NewLocker(client *Client, logger *zap.Logger) *Locker {
	return &Locker{client: client, logger: logger}
}

func lockKey(key string) string {
	return "lock:" + key
}

// TryLock takes the lock for ttl without waiting. ok is false when it is held.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		l.logger.Debug("lock busy", zap.String("key", key))
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases a lock taken with TryLock.
func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	deleted, err := unlockScript.Run(ctx, l.client.rdb, []string{lockKey(key)}, token).Int()
	if err != nil {
		return fmt.Errorf("redis unlock failed: %w", err)
	}
	if deleted == 0 {
		l.logger.Warn("lock expired before release", zap.String("key", key))
	}
	return nil
}
