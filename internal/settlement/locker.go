package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
	"github.com/angelmondragon/skewerpos-backend/pkg/redis"
)

// Locker serializes settlement of one order across API replicas.
type Locker interface {
	Acquire(ctx context.Context, orderID uuid.UUID) (release func(), err error)
}

type lockStore interface {
	SettlementLockKey(orderID string) string
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key, token string) error
}

// RedisLocker holds a short-lived redis key per order while a payment is saved.
type RedisLocker struct {
	store lockStore
	ttl   time.Duration
	logg  *logger.Logger
}

// NewRedisLocker returns a locker backed by store.
func NewRedisLocker(store lockStore, ttl time.Duration, logg *logger.Logger) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("lock store required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &RedisLocker{store: store, ttl: ttl, logg: logg}, nil
}

// Acquire claims the order lock or fails with CodeConflict when another
// replica is saving a payment for the same order.
func (l *RedisLocker) Acquire(ctx context.Context, orderID uuid.UUID) (func(), error) {
	key := l.store.SettlementLockKey(orderID.String())
	token := uuid.NewString()
	if err := l.store.AcquireLock(ctx, key, token, l.ttl); err != nil {
		if errors.Is(err, redis.ErrLockHeld) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a payment for this order is already being saved")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire settlement lock")
	}
	return func() {
		// release must outlive a cancelled request context
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := l.store.ReleaseLock(releaseCtx, key, token); err != nil && l.logg != nil {
			l.logg.Error(releaseCtx, "settlement.lock_release_failed", err)
		}
	}, nil
}
