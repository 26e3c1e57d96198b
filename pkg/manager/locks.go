package manager

import (
	"sync"
)

// lockTable serializes mutating operations per sandbox. Entries are created
// on demand and removed when their sandbox is deleted, so the table does not
// grow with the lifetime of the process.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sandboxLock
}

type sandboxLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sandboxLock)}
}

// acquire blocks until the sandbox's lock is held. The returned release
// function must be called exactly once.
func (t *lockTable) acquire(sandboxID string) func() {
	t.mu.Lock()
	l, ok := t.locks[sandboxID]
	if !ok {
		l = &sandboxLock{}
		t.locks[sandboxID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		t.mu.Unlock()
	}
}

// forget removes a deleted sandbox's lock entry once no one is waiting on it.
func (t *lockTable) forget(sandboxID string) {
	t.mu.Lock()
	if l, ok := t.locks[sandboxID]; ok && l.refs == 0 {
		delete(t.locks, sandboxID)
	}
	t.mu.Unlock()
}

// size reports how many lock entries exist, for tests.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
