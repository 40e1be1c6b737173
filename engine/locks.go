package engine

import (
	"sync"
)

// LockTable serializes work on individual keys.  Entries exist only while some
// goroutine holds or waits on the key's lock.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*keyLock)}
}

// Lock blocks until the lock on key is held.
func (t *LockTable) Lock(key string) {
	t.mu.Lock()
	l, found := t.locks[key]
	if !found {
		l = new(keyLock)
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
}

// Unlock releases the lock on key, which must be held.
func (t *LockTable) Unlock(key string) {
	t.mu.Lock()
	l, found := t.locks[key]
	if !found {
		t.mu.Unlock()
		panic("unlock of unlocked key " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()

	l.Unlock()
}

// Len returns the number of keys currently locked or waited on.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
