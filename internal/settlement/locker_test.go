package settlement

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
	"github.com/angelmondragon/skewerpos-backend/pkg/redis"
)

type memLocks struct {
	held     map[string]string
	ttl      time.Duration
	acquireE error
}

func (m *memLocks) SettlementLockKey(orderID string) string { return "pos:lock:settlement:" + orderID }

func (m *memLocks) AcquireLock(_ context.Context, key, token string, ttl time.Duration) error {
	if m.acquireE != nil {
		return m.acquireE
	}
	if _, ok := m.held[key]; ok {
		return redis.ErrLockHeld
	}
	m.held[key] = token
	m.ttl = ttl
	return nil
}

func (m *memLocks) ReleaseLock(_ context.Context, key, token string) error {
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

func TestRedisLockerLifecycle(t *testing.T) {
	store := &memLocks{held: map[string]string{}}
	locker, err := NewRedisLocker(store, 30*time.Second, logger.New(logger.Options{Output: io.Discard}))
	require.NoError(t, err)

	orderID := uuid.New()
	release, err := locker.Acquire(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, store.ttl)
	assert.Contains(t, store.held, "pos:lock:settlement:"+orderID.String())

	_, err = locker.Acquire(context.Background(), orderID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))

	release()
	assert.Empty(t, store.held)

	release2, err := locker.Acquire(context.Background(), orderID)
	require.NoError(t, err)
	release2()
}

func TestRedisLockerDependencyError(t *testing.T) {
	store := &memLocks{held: map[string]string{}, acquireE: errors.New("connection refused")}
	locker, err := NewRedisLocker(store, time.Second, nil)
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
}

func TestNewRedisLockerValidates(t *testing.T) {
	_, err := NewRedisLocker(nil, time.Second, nil)
	assert.Error(t, err)
	_, err = NewRedisLocker(&memLocks{}, 0, nil)
	assert.Error(t, err)
}
