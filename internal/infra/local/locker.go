// internal/infra/local/locker.go
package local

import (
	"context"
	"sync"

	"update-runner/internal/domain"
)

// processLocker implements domain.Locker inside a single process. It backs
// the one-shot binary when no etcd endpoints are configured; the daemon uses
// the etcd locker instead.
type processLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProcessLocker creates an in-process locker.
func NewProcessLocker() domain.Locker {
	return &processLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock makes a single non-blocking attempt to take the named lock.
func (l *processLocker) Lock(_ context.Context, name string) (domain.Lock, error) {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, domain.ErrLockNotAcquired
	}
	return processLock{m}, nil
}

type processLock struct {
	m *sync.Mutex
}

func (p processLock) Unlock(context.Context) error {
	p.m.Unlock()
	return nil
}
