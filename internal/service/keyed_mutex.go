package service

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes operations per message id, so a second edit or delete
// on the same message waits for the first to commit or roll back before
// taking its own snapshot. Entries are reference counted and dropped once
// unused.
type keyedMutex struct {
	mu    *sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{
		mu:    &sync.Mutex{},
		locks: make(map[uuid.UUID]*keyedLock),
	}
}

// Lock blocks until the id's lock is held and returns the unlock func.
func (k *keyedMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
