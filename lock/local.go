/*
Package lock provides generic.Locker implementations.

  Local: keyed in-process mutex. One replica, or tests.
  Redis: bsm/redislock over go-redis. Several replicas sharing one ledger.

Both also offer TryLock, used by the job scheduler to skip a run that
another worker already holds instead of queueing behind it.
*/
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// LOCAL - Keyed mutex
// =============================================================================

type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// slot is a one-token semaphore so waiters can give up on ctx.
type slot struct {
	token chan struct{}
	refs  int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	s := l.acquire(key)
	select {
	case s.token <- struct{}{}:
		return l.releaser(key, s), nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, fmt.Errorf("%w: %s: %v", generic.ErrConcurrentModification, key, ctx.Err())
	}
}

// TryLock returns ErrConcurrentModification at once if key is held.
func (l *Local) TryLock(_ context.Context, key string) (func(), error) {
	s := l.acquire(key)
	select {
	case s.token <- struct{}{}:
		return l.releaser(key, s), nil
	default:
		l.drop(key, s)
		return nil, fmt.Errorf("%w: %s is held", generic.ErrConcurrentModification, key)
	}
}

func (l *Local) acquire(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) releaser(key string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.token
			l.drop(key, s)
		})
	}
}
