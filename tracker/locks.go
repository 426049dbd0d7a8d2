package tracker

import (
	"context"
	"sync"

	"github.com/getpup/medallion"
)

type lockKey struct {
	layer    medallion.Layer
	entityID int64
}

type entityLock struct {
	ch   chan struct{}
	refs int
}

// entityLocks serializes tracker writes per (layer, entity) within one process.
// Entries are dropped once no caller holds or waits for them.
type entityLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*entityLock
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[lockKey]*entityLock)}
}

// lock blocks until the entity lock is held or ctx is done.
func (l *entityLocks) lock(ctx context.Context, key lockKey) (unlock func(), err error) {
	l.mu.Lock()
	el, ok := l.locks[key]
	if !ok {
		el = &entityLock{ch: make(chan struct{}, 1)}
		l.locks[key] = el
	}
	el.refs++
	l.mu.Unlock()

	select {
	case el.ch <- struct{}{}:
		return func() {
			<-el.ch
			l.release(key, el)
		}, nil
	case <-ctx.Done():
		l.release(key, el)
		return nil, ctx.Err()
	}
}

func (l *entityLocks) release(key lockKey, el *entityLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el.refs--
	if el.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *entityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
