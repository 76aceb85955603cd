// Package service implements the decision pipeline: proposal, risk
// gating, delivery, confirmation tracking, position monitoring, and the
// weekly divergence review that turns disagreements into memories.
package service

import "sync"

// Locks serializes writers per record key. Event subscribers may run
// concurrently, but two callbacks mutating the same signal or position
// must not interleave their read-modify-write cycles, and the
// confirmation watcher shares the same lock as an explicit confirm so
// exactly one of them wins a race.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks returns an empty lock table. All services touching the same
// stores must share one instance.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use, and
// returns the unlock function. Unlocking more than once is a no-op, so
// a caller may release early before handing off to event subscribers
// and still keep a deferred unlock for its error paths.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	var once sync.Once
	return func() { once.Do(m.Unlock) }
}
