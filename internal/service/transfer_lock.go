package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/staff-transfer-api/internal/repository"
)

// TransferLocker serialises work on a single transfer request.
type TransferLocker interface {
	Lock(ctx context.Context, transferID string) (unlock func(), err error)
}

// LocalTransferLocker is an in-process keyed mutex.
type LocalTransferLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	slot chan struct{}
	refs int
}

// NewLocalTransferLocker constructs an empty locker.
func NewLocalTransferLocker() *LocalTransferLocker {
	return &LocalTransferLocker{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the key is free or ctx ends.
func (l *LocalTransferLocker) Lock(ctx context.Context, transferID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[transferID]
	if !ok {
		entry = &lockEntry{slot: make(chan struct{}, 1)}
		l.entries[transferID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(transferID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.slot
			l.release(transferID, entry)
		})
	}, nil
}

func (l *LocalTransferLocker) release(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

type mutexFactory interface {
	NewMutex(key string, ttl time.Duration) repository.DistributedMutex
}

// RedisTransferLocker coordinates replicas through redsync. When Redis is
// unreachable or the lock stays taken for a whole TTL it proceeds unlocked;
// the versioned update remains the serialisation point.
type RedisTransferLocker struct {
	mutexes mutexFactory
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisTransferLocker constructs the locker.
func NewRedisTransferLocker(mutexes mutexFactory, ttl time.Duration, logger *zap.Logger) *RedisTransferLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTransferLocker{mutexes: mutexes, ttl: ttl, logger: logger}
}

func transferLockKey(id string) string {
	return fmt.Sprintf("transfer:lock:%s", id)
}

// Lock implements TransferLocker.
func (l *RedisTransferLocker) Lock(ctx context.Context, transferID string) (func(), error) {
	key := transferLockKey(transferID)
	mutex := l.mutexes.NewMutex(key, l.ttl)
	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if repository.IsLockContention(err) {
			l.logger.Warn("transfer lock still held after ttl, continuing without it", zap.String("key", key))
		} else {
			l.logger.Warn("transfer lock unavailable, continuing without it", zap.String("key", key), zap.Error(err))
		}
		return func() {}, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil || !ok {
				l.logger.Warn("release transfer lock failed", zap.String("key", key), zap.Bool("released", ok), zap.Error(err))
			}
		})
	}, nil
}
