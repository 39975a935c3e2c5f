// Package session manages the bounded pool of per-user automation sessions.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/fichabot/internal/driver"
)

// Session wraps one user's exclusive automation handle with liveness
// metadata and its execution context.
//
// A handle is not safe for concurrent use, so all work against a session
// runs under its run lock: callers use Run (or TryRun) around each batch,
// and pool eviction/sweep acquire the same lock before closing.
type Session struct {
	ID        string
	UserID    string
	Handle    driver.Handle
	CreatedAt time.Time

	// LoggedIn and Exec are read and written only while the run lock is held.
	LoggedIn bool
	Exec     ExecutionContext

	lastActivity atomic.Int64 // unix nanos
	mu           sync.Mutex   // run lock
	closed       atomic.Bool
}

// New creates a live session around an opened handle.
func New(userID string, handle driver.Handle) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Handle:    handle,
		CreatedAt: time.Now(),
	}
	s.Touch()
	return s
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent acquisition.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IsExpired reports whether the session has been idle longer than timeout.
func (s *Session) IsExpired(timeout time.Duration) bool {
	return time.Since(s.LastActivity()) > timeout
}

// Run executes fn while holding the session's run lock, waiting for any
// in-flight batch to finish first.
func (s *Session) Run(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// TryRun executes fn under the run lock only if it can be taken without
// waiting. It returns false when a batch is in flight.
func (s *Session) TryRun(fn func()) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	fn()
	return true
}

// tryLockRun takes the run lock without waiting and unlockRun releases it.
// The pool uses the pair to unlink a victim while holding its own lock and
// close the handle only after releasing it.
func (s *Session) tryLockRun() bool { return s.mu.TryLock() }

func (s *Session) unlockRun() { s.mu.Unlock() }

// Close releases the handle and clears login and execution state. Safe to
// call multiple times. The caller must hold the run lock (directly or via
// Run/TryRun) so a running batch is never interrupted.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.LoggedIn = false
	s.Exec.Reset()
	return s.Handle.Close(ctx)
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool { return s.closed.Load() }
