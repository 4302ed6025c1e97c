package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBusy is returned when the lock is held by someone else and the wait
// timeout elapsed. Callers that treat "busy" as "another worker is already
// handling this" should exit early rather than fail.
var ErrBusy = errors.New("lock: busy")

const (
	keyPrefix           = "lock:"
	defaultPollInterval = 100 * time.Millisecond
)

// Store is the minimal key-value contract the lock needs from its backing
// store. RedisStore adapts go-redis to it; tests supply in-memory fakes.
type Store interface {
	// SetNX sets key to value with the given ttl only if key is absent and
	// reports whether the set happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the current value of key, or "" if it does not exist.
	Get(ctx context.Context, key string) (string, error)
	// Del removes key.
	Del(ctx context.Context, key string) error
}

// Locker provides key-scoped mutual exclusion with TTL auto-expiry.
// Critical sections must stay shorter than the ttl passed to Acquire.
type Locker struct {
	store        Store
	pollInterval time.Duration
}

func New(store Store) *Locker {
	return &Locker{store: store, pollInterval: defaultPollInterval}
}

// Lease represents lock ownership for a single key. Release is owner-checked:
// it deletes the marker only while it still carries this lease's token.
type Lease struct {
	store Store
	key   string
	token string
}

// Acquire attempts to take the lock for key, polling until wait elapses.
// A wait of zero means a single attempt. Returns ErrBusy if the lock stayed
// held for the whole wait window.
func (l *Locker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lease, error) {
	storeKey := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.store.SetNX(ctx, storeKey, token, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lease{store: l.store, key: storeKey, token: token}, nil
		}
		if wait <= 0 || !time.Now().Before(deadline) {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// Release deletes the lock marker if this lease still owns it. Releasing a
// lock that expired and was taken over by another holder is a no-op, as is
// any store error: the TTL is the backstop.
func (le *Lease) Release(ctx context.Context) {
	value, err := le.store.Get(ctx, le.key)
	if err != nil || value != le.token {
		return
	}
	_ = le.store.Del(ctx, le.key)
}
