package ingest

import (
	"errors"
	"sync"
)

// ErrRunInProgress is returned when a run for the same (date, region) is
// already executing in this process.
var ErrRunInProgress = errors.New("ingest run already in progress")

// keyedLock is a set of non-blocking per-key mutexes.
type keyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{held: make(map[string]struct{})}
}

func (l *keyedLock) tryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *keyedLock) unlock(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}
