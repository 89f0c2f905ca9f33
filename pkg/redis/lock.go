package redis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockHeld is returned when another holder owns the requested lock.
var ErrLockHeld = errors.New("lock already held")

// releaseScript deletes the key only while it still carries the caller's token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// SettlementLockKey names the lock guarding concurrent settlement of one order.
func (c *Client) SettlementLockKey(orderID string) string {
	return buildKey("lock", "settlement", orderID)
}

// AcquireLock claims key for ttl using token as the owner marker.
func (c *Client) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) error {
	ok, err := c.SetNX(ctx, key, token, ttl)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// ReleaseLock drops key when token still owns it. An expired or taken-over
// lock is left alone.
func (c *Client) ReleaseLock(ctx context.Context, key, token string) error {
	if c.store == nil {
		return errNotInitialized
	}
	if err := c.store.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
