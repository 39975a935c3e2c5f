// Package conversation tracks short-lived per-user conversational state:
// pending disambiguation questions awaiting the user's next reply.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/logging"
)

// Pending is saved state awaiting the user's reply to resolve an ambiguous
// prior command. At most one exists per user.
type Pending struct {
	UserID       string
	ProjectName  string
	Candidates   []domain.Candidate
	Confirmation bool // true when the question is a yes/no confirmation
	Actions      []domain.Action
	CreatedAt    time.Time
}

// Manager owns pending-disambiguation state with TTL expiry.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Pending
	ttl     time.Duration
	sweep   time.Duration
	log     *logging.Logger
}

// NewManager creates a conversation state manager.
func NewManager(ttl, sweepInterval time.Duration, log *logging.Logger) *Manager {
	return &Manager{
		pending: make(map[string]*Pending),
		ttl:     ttl,
		sweep:   sweepInterval,
		log:     log.Sub("conversation"),
	}
}

// expiredLocked reports whether p has outlived the TTL. Caller holds mu.
func (m *Manager) expiredLocked(p *Pending) bool {
	return time.Since(p.CreatedAt) > m.ttl
}

// HasPending reports whether a live pending question exists for the user.
// An expired entry is deleted as a side effect.
func (m *Manager) HasPending(userID string) bool {
	return m.GetPending(userID) != nil
}

// GetPending returns the user's pending question, or nil if none or expired.
// Expired entries are deleted on access.
func (m *Manager) GetPending(userID string) *Pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[userID]
	if !ok {
		return nil
	}
	if m.expiredLocked(p) {
		delete(m.pending, userID)
		m.log.Debug().Str("user", userID).Msg("pending disambiguation expired")
		return nil
	}
	return p
}

// SavePending records a pending question, overwriting any prior entry.
func (m *Manager) SavePending(userID, projectName string, candidates []domain.Candidate, confirmation bool, actions []domain.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending[userID] = &Pending{
		UserID:       userID,
		ProjectName:  projectName,
		Candidates:   candidates,
		Confirmation: confirmation,
		Actions:      actions,
		CreatedAt:    time.Now(),
	}
	m.log.Debug().
		Str("user", userID).
		Str("project", projectName).
		Int("candidates", len(candidates)).
		Msg("pending disambiguation saved")
}

// Clear removes the user's pending question.
func (m *Manager) Clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, userID)
}

// SweepExpired removes every expired entry. Access paths self-clean, but
// the batch sweep bounds memory for users who never query again.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for uid, p := range m.pending {
		if m.expiredLocked(p) {
			delete(m.pending, uid)
			removed++
		}
	}
	return removed
}

// RunSweeper runs SweepExpired on a fixed interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.SweepExpired(); n > 0 {
				m.log.Debug().Int("removed", n).Msg("expired pending state swept")
			}
		}
	}
}

// Count returns the number of stored entries, including expired ones not
// yet swept.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
