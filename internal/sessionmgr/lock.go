// Package sessionmgr is the SessionManager component (SPEC_FULL.md §4.E):
// lifecycle of per-session supervisor tasks, the message iterator over a
// session's pending queue, and cancellation.
package sessionmgr

import (
	"context"
	"sync"
	"time"
)

// taskLock is a single session's exclusivity lock, condition-variable based
// so waiters wake the instant the holder releases rather than polling.
type taskLock struct {
	mu       sync.Mutex
	cond     *sync.Cond
	held     bool
	holder   string
	acquired time.Time
}

// TaskLockManager enforces "at most one active supervisor task per Session"
// (spec.md §4.E). Adapted from internal/sessions/write_lock.go's
// SessionLockManager: same condition-variable Acquire/TryAcquire shape and
// background cleanupLoop, but held for the duration of the whole
// supervisor task rather than released after a single write.
type TaskLockManager struct {
	mu    sync.RWMutex
	locks map[int64]*taskLock
	idle  time.Duration
}

// NewTaskLockManager starts a manager whose cleanup loop evicts locks that
// have sat unheld for longer than idle (default 10 minutes).
func NewTaskLockManager(idle time.Duration) *TaskLockManager {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	m := &TaskLockManager{locks: make(map[int64]*taskLock), idle: idle}
	go m.cleanupLoop()
	return m
}

func (m *TaskLockManager) getOrCreate(sessionDbID int64) *taskLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionDbID]
	if !ok {
		l = &taskLock{}
		l.cond = sync.NewCond(&l.mu)
		m.locks[sessionDbID] = l
	}
	return l
}

// Acquire blocks until the session's lock is free or ctx is done, then
// marks it held by holder and returns a release function.
func (m *TaskLockManager) Acquire(ctx context.Context, sessionDbID int64, holder string) (func(), error) {
	l := m.getOrCreate(sessionDbID)

	l.mu.Lock()
	for l.held {
		done := make(chan struct{})
		go func() {
			l.cond.Wait()
			close(done)
		}()
		l.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		l.mu.Lock()
	}
	l.held = true
	l.holder = holder
	l.acquired = time.Now()
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.holder = ""
			l.mu.Unlock()
			l.cond.Broadcast()
		})
	}
	return release, nil
}

// TryAcquire attempts the lock without waiting.
func (m *TaskLockManager) TryAcquire(sessionDbID int64, holder string) (func(), bool) {
	l := m.getOrCreate(sessionDbID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false
	}
	l.held = true
	l.holder = holder
	l.acquired = time.Now()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.holder = ""
			l.mu.Unlock()
			l.cond.Broadcast()
		})
	}
	return release, true
}

// IsLocked reports whether sessionDbID currently has an active task.
func (m *TaskLockManager) IsLocked(sessionDbID int64) bool {
	m.mu.RLock()
	l, ok := m.locks[sessionDbID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (m *TaskLockManager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		m.cleanup()
	}
}

func (m *TaskLockManager) cleanup() {
	cutoff := time.Now().Add(-m.idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, l := range m.locks {
		l.mu.Lock()
		stale := !l.held && l.acquired.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(m.locks, id)
		}
	}
}
