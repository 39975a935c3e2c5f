package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/fichabot/internal/driver"
	"github.com/soyeahso/fichabot/internal/logging"
)

var (
	// ErrPoolExhausted means no capacity remains even after eviction.
	ErrPoolExhausted = errors.New("session pool exhausted")
	// ErrSessionInit means the automation driver failed to open a handle.
	ErrSessionInit = errors.New("session initialization failed")
)

// Event types emitted by the pool.
const (
	EventCreated = "session_created"
	EventEvicted = "session_evicted"
	EventExpired = "session_expired"
	EventClosed  = "session_closed"
)

// Event describes a session lifecycle change.
type Event struct {
	Type   string    `json:"type"`
	UserID string    `json:"userId"`
	Time   time.Time `json:"time"`
}

// EventFunc receives pool events. Must not block.
type EventFunc func(Event)

// Stats is the pool introspection snapshot.
type Stats struct {
	ActiveSessions int      `json:"active_sessions"`
	MaxSessions    int      `json:"max_sessions"`
	Users          []string `json:"users"`
}

// entry guards session construction: the map slot is reserved before the
// slow handle open so two callers never race to create two handles for the
// same user. sess and err are written under the pool lock before ready is
// closed; waiters read them only after <-ready.
type entry struct {
	sess  *Session
	err   error
	ready chan struct{}
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	MaxSessions    int
	SessionTimeout time.Duration
	SweepInterval  time.Duration
}

// Pool owns the map of userID to Session: bounded capacity, LRU eviction
// under pressure, background expiry sweep. acquire/release/sweep all
// serialize on one pool-wide lock for their map mutation; the lock is
// never held across a handle open or close.
type Pool struct {
	cfg    PoolConfig
	opener driver.Opener
	notify EventFunc
	log    *logging.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewPool creates a session pool.
func NewPool(cfg PoolConfig, opener driver.Opener, notify EventFunc, log *logging.Logger) *Pool {
	if notify == nil {
		notify = func(Event) {}
	}
	return &Pool{
		cfg:      cfg,
		opener:   opener,
		notify:   notify,
		log:      log.Sub("pool"),
		sessions: make(map[string]*entry),
	}
}

// Acquire returns the live session for userID, creating one if needed.
// An existing session is refreshed and returned as-is. At capacity, the
// least-recently-active idle session is evicted first; if nothing is
// evictable the call fails with ErrPoolExhausted. Driver failure during
// creation leaves no residual entry and returns ErrSessionInit.
func (p *Pool) Acquire(ctx context.Context, userID string) (*Session, error) {
	p.mu.Lock()

	if e, ok := p.sessions[userID]; ok {
		p.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		e.sess.Touch()
		return e.sess, nil
	}

	var victim *Session
	var victimUser string
	if len(p.sessions) >= p.cfg.MaxSessions {
		victim, victimUser = p.evictLRULocked()
		if victim == nil {
			p.mu.Unlock()
			p.log.Warn().Str("user", userID).Int("max", p.cfg.MaxSessions).Msg("pool exhausted")
			return nil, ErrPoolExhausted
		}
	}

	// Reserve the slot, then open the handle without holding the lock.
	e := &entry{ready: make(chan struct{})}
	p.sessions[userID] = e
	p.mu.Unlock()

	// The victim is already unlinked; closing its handle here keeps the
	// slow driver call off the pool lock.
	if victim != nil {
		if cerr := victim.Close(ctx); cerr != nil {
			p.log.Warn().Err(cerr).Str("user", victimUser).Msg("handle close failed during eviction")
		}
		victim.unlockRun()
		p.log.Info().Str("user", victimUser).Msg("session evicted")
		p.notify(Event{Type: EventEvicted, UserID: victimUser, Time: time.Now()})
	}

	handle, err := p.opener.Open(ctx, userID)

	p.mu.Lock()
	if err != nil {
		delete(p.sessions, userID)
		e.err = fmt.Errorf("%w: %v", ErrSessionInit, err)
		p.mu.Unlock()
		close(e.ready)
		p.log.Error().Err(err).Str("user", userID).Msg("handle open failed")
		return nil, e.err
	}
	// The entry can be discarded (CloseAll) while the open was in flight;
	// the fresh handle must be closed, not installed into an orphan.
	if cur, live := p.sessions[userID]; !live || cur != e {
		e.err = fmt.Errorf("%w: session discarded during open", ErrSessionInit)
		p.mu.Unlock()
		close(e.ready)
		if cerr := handle.Close(ctx); cerr != nil {
			p.log.Warn().Err(cerr).Str("user", userID).Msg("handle close failed after discard")
		}
		return nil, e.err
	}
	e.sess = New(userID, handle)
	p.mu.Unlock()
	close(e.ready)

	p.log.Info().Str("user", userID).Str("sessionId", e.sess.ID).Msg("session created")
	p.notify(Event{Type: EventCreated, UserID: userID, Time: time.Now()})
	return e.sess, nil
}

// evictLRULocked unlinks the least-recently-active session that is not
// mid-batch and returns it with its run lock held; the caller closes the
// handle after releasing the pool lock. Sessions still initializing or
// currently executing are skipped. Returns nil when nothing is evictable.
// Caller holds the pool lock.
func (p *Pool) evictLRULocked() (*Session, string) {
	type cand struct {
		userID string
		sess   *Session
	}
	var cands []cand
	for uid, e := range p.sessions {
		if e.sess == nil {
			continue // still initializing
		}
		cands = append(cands, cand{userID: uid, sess: e.sess})
	}
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].sess.LastActivity().Before(cands[j].sess.LastActivity())
	})

	for _, c := range cands {
		if !c.sess.tryLockRun() {
			continue // batch in flight; never evict underneath it
		}
		delete(p.sessions, c.userID)
		return c.sess, c.userID
	}
	return nil, ""
}

// Release explicitly closes and removes a user's session. Waits for any
// in-flight batch to finish before closing the handle.
func (p *Pool) Release(ctx context.Context, userID string) bool {
	p.mu.Lock()
	e, ok := p.sessions[userID]
	if !ok || e.sess == nil {
		p.mu.Unlock()
		return false
	}
	delete(p.sessions, userID)
	p.mu.Unlock()

	// The entry is already unreachable, so waiting here blocks nobody else.
	e.sess.Run(func() {
		if err := e.sess.Close(ctx); err != nil {
			p.log.Warn().Err(err).Str("user", userID).Msg("handle close failed on release")
		}
	})
	p.log.Info().Str("user", userID).Msg("session released")
	p.notify(Event{Type: EventClosed, UserID: userID, Time: time.Now()})
	return true
}

// Sweep closes and removes every session idle longer than the configured
// timeout. Sessions mid-batch are skipped; the next sweep revisits them.
// Victims are unlinked under the pool lock and their handles closed after
// it is released, so acquisitions never wait on a slow driver call.
func (p *Pool) Sweep(ctx context.Context) int {
	type victim struct {
		userID string
		sess   *Session
	}
	p.mu.Lock()
	var victims []victim
	for uid, e := range p.sessions {
		if e.sess == nil || !e.sess.IsExpired(p.cfg.SessionTimeout) {
			continue
		}
		if !e.sess.tryLockRun() {
			continue
		}
		delete(p.sessions, uid)
		victims = append(victims, victim{userID: uid, sess: e.sess})
	}
	p.mu.Unlock()

	for _, v := range victims {
		if err := v.sess.Close(ctx); err != nil {
			p.log.Warn().Err(err).Str("user", v.userID).Msg("handle close failed during sweep")
		}
		v.sess.unlockRun()
		p.log.Info().Str("user", v.userID).Msg("session expired")
		p.notify(Event{Type: EventExpired, UserID: v.userID, Time: time.Now()})
	}
	return len(victims)
}

// RunSweeper runs the expiry sweep on a fixed interval until ctx is done.
// A single goroutine drives the ticker, so sweeps never overlap.
func (p *Pool) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Sweep(ctx); n > 0 {
				p.log.Debug().Int("removed", n).Msg("sweep completed")
			}
		}
	}
}

// Stats returns the pool introspection snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := make([]string, 0, len(p.sessions))
	for uid, e := range p.sessions {
		if e.sess != nil {
			users = append(users, uid)
		}
	}
	sort.Strings(users)
	return Stats{
		ActiveSessions: len(users),
		MaxSessions:    p.cfg.MaxSessions,
		Users:          users,
	}
}

// Size returns the number of entries currently held, including ones still
// initializing.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// CloseAll releases every session. Used at shutdown.
func (p *Pool) CloseAll(ctx context.Context) {
	p.mu.Lock()
	var all []*entry
	for _, e := range p.sessions {
		if e.sess != nil {
			all = append(all, e)
		}
	}
	p.sessions = make(map[string]*entry)
	p.mu.Unlock()

	for _, e := range all {
		e.sess.Run(func() {
			e.sess.Close(ctx)
		})
	}
}
