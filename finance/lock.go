package finance

import (
	"context"
	"sync"
)

// =============================================================================
// LOCKER - Serializes mutations of one document or one club batch
// =============================================================================

// Locker guards read-then-write sequences on a single key (a document number
// or a club number). Obtain fails fast with ErrLockHeld instead of waiting.
//
// Implementations:
//   - LocalLocker: in-process, the default
//   - store/lock.Redis: bsm/redislock, for several server instances
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}

func documentLockKey(number string) string { return "lock:document:" + number }
func clubLockKey(clubNo string) string     { return "lock:club:" + clubNo }

// LocalLocker is a keyed try-lock held in memory.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Obtain(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrLockHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
