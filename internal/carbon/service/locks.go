package service

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// carrierLocks hands out one single-slot semaphore per carrier so each chain
// has a single writer while different carriers proceed in parallel. Entries
// are reference counted and dropped when the last holder or waiter leaves.
type carrierLocks struct {
	mu    sync.Mutex
	locks map[string]*carrierLock
}

type carrierLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newCarrierLocks() *carrierLocks {
	return &carrierLocks{locks: make(map[string]*carrierLock)}
}

// lock waits until the caller is the only writer for carrierID and returns
// the matching unlock function. It gives up with ctx.Err() when ctx is done
// before the lock is free.
func (c *carrierLocks) lock(ctx context.Context, carrierID string) (func(), error) {
	c.mu.Lock()
	l, ok := c.locks[carrierID]
	if !ok {
		l = &carrierLock{sem: semaphore.NewWeighted(1)}
		c.locks[carrierID] = l
	}
	l.refs++
	c.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		c.release(carrierID, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		c.release(carrierID, l)
	}, nil
}

func (c *carrierLocks) release(carrierID string, l *carrierLock) {
	c.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, carrierID)
	}
	c.mu.Unlock()
}

// size returns the number of carriers with a live lock entry.
func (c *carrierLocks) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
