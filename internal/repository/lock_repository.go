package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	lockRetryDelay = 50 * time.Millisecond
	maxLockTries   = 1000
)

// ErrLockUnavailable is returned by mutexes built without a Redis client.
var ErrLockUnavailable = errors.New("redis client not configured")

// DistributedMutex is a single named lock.
type DistributedMutex interface {
	LockContext(ctx context.Context) error
	UnlockContext(ctx context.Context) (bool, error)
}

// LockRepository hands out redsync mutexes backed by the shared Redis client.
type LockRepository struct {
	rs *redsync.Redsync
}

// NewLockRepository constructs the repository. A nil client yields mutexes
// that always fail with ErrLockUnavailable.
func NewLockRepository(client *redis.Client) *LockRepository {
	if client == nil {
		return &LockRepository{}
	}
	return &LockRepository{rs: redsync.New(goredis.NewPool(client))}
}

// NewMutex returns a mutex on key that expires after ttl. Acquisition keeps
// retrying for roughly one ttl before giving up.
func (r *LockRepository) NewMutex(key string, ttl time.Duration) DistributedMutex {
	if r.rs == nil {
		return unavailableMutex{}
	}
	return r.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(lockTries(ttl)),
		redsync.WithRetryDelay(lockRetryDelay),
	)
}

// IsLockContention reports whether err means another holder owns the lock,
// as opposed to Redis being unreachable.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}

func lockTries(ttl time.Duration) int {
	tries := int(ttl / lockRetryDelay)
	if tries < 1 {
		return 1
	}
	if tries > maxLockTries {
		return maxLockTries
	}
	return tries
}

type unavailableMutex struct{}

func (unavailableMutex) LockContext(context.Context) error { return ErrLockUnavailable }

func (unavailableMutex) UnlockContext(context.Context) (bool, error) { return false, nil }
