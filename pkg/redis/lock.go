package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLockKey guards against two merge runs mutating the store at the same time.
const RunLockKey = "merge-run"

const defaultKeyPrefix = "fern:"

// MinLockTTL is the shortest TTL a lock accepts; KeepAlive renews at a third of it.
const MinLockTTL = time.Second

var (
	// ErrLockNotAcquired is returned when another owner holds the lock
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when the lock expired or was taken over
	ErrLockNotHeld = errors.New("lock not held")
)

// compare-and-delete / compare-and-expire on the owner token
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)
)

// Locker takes owner-tagged locks under a key prefix.
type Locker struct {
	client *Client
	prefix string
}

// NewLocker creates a Locker. An empty prefix selects "fern:".
func NewLocker(client *Client, prefix string) *Locker {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Locker{client: client, prefix: prefix}
}

// Lock is a held lock. Its token identifies the holder process.
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Acquire takes the lock for ttl, or returns an error wrapping ErrLockNotAcquired that names the
// current holder.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.prefix + key
	if ttl < MinLockTTL {
		return nil, fmt.Errorf("lock ttl for %s must be at least %s, got %s", lockKey, MinLockTTL, ttl)
	}
	token := ownerToken()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to take lock %s: %w", lockKey, err)
	}
	if !ok {
		holder, _ := l.Holder(ctx, key)
		return nil, fmt.Errorf("%w: %s is held by %s", ErrLockNotAcquired, lockKey, holder)
	}

	l.client.logger.WithContext(ctx).WithField("token", token).Debugf("Acquired lock %s", lockKey)
	return &Lock{client: l.client, key: lockKey, token: token, ttl: ttl}, nil
}

// Holder returns the owner token of key, or "" when it is free.
func (l *Locker) Holder(ctx context.Context, key string) (string, error) {
	holder, err := l.client.rdb.Get(ctx, l.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return holder, err
}

// Key returns the full redis key of the lock.
func (lock *Lock) Key() string {
	return lock.key
}

// Token returns the owner token stored under the key.
func (lock *Lock) Token() string {
	return lock.token
}

// Extend resets the lock's TTL if it is still ours.
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if ttl < MinLockTTL {
		return fmt.Errorf("lock ttl must be at least %s, got %s", MinLockTTL, ttl)
	}
	n, err := extendScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	lock.ttl = ttl
	return nil
}

// KeepAlive extends the lock every third of its TTL until Release is called or ctx ends, so a
// run longer than the TTL keeps its lock. A failed extension is logged; the run is not stopped.
func (lock *Lock) KeepAlive(ctx context.Context) {
	if lock.stop != nil || lock.ttl < MinLockTTL {
		return
	}
	lock.stop = make(chan struct{})
	lock.done = make(chan struct{})

	go func() {
		defer close(lock.done)
		ticker := time.NewTicker(lock.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-lock.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Extend(ctx, lock.ttl); err != nil {
					lock.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to extend lock %s", lock.key)
				}
			}
		}
	}()
}

// Release stops the keep-alive and deletes the lock if it is still ours.
func (lock *Lock) Release(ctx context.Context) error {
	lock.stopOnce.Do(func() {
		if lock.stop != nil {
			close(lock.stop)
			<-lock.done
		}
	})

	n, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock %s", lock.key)
	return nil
}

func ownerToken() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}
