package scheduler

import "sync"

// ClassLocks hands out one exclusivity lock per pipeline kind. Runs that
// share a kind serialize on it; different kinds run concurrently.
type ClassLocks struct {
	mu    sync.Mutex
	locks map[Kind]*sync.Mutex
}

// NewClassLocks creates an empty lock set.
func NewClassLocks() *ClassLocks {
	return &ClassLocks{
		locks: make(map[Kind]*sync.Mutex),
	}
}

// For returns the lock of kind, creating it on first use.
func (c *ClassLocks) For(kind Kind) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[kind]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[kind] = lock
	}
	return lock
}
