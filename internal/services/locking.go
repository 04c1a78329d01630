package services

import "sync"

// WriteLock serializes write transactions on the shared database handle.
// Single-writer-per-process discipline; no distributed locking (single-node
// deployment). Reads stay lock-free.
type WriteLock struct {
	mu sync.Mutex
}

func NewWriteLock() *WriteLock { return &WriteLock{} }

// Acquire takes the lock and returns the release function, so callers can
// guarantee release on every exit path:
//
//	defer lock.Acquire()()
func (l *WriteLock) Acquire() func() {
	l.mu.Lock()
	return l.mu.Unlock
}
