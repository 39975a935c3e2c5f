// Package recovery tracks consecutive execution failures per user and
// forces a session refresh once they pass the threshold.
package recovery

import (
	"context"
	"sync"

	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/driver"
	"github.com/soyeahso/fichabot/internal/logging"
	"github.com/soyeahso/fichabot/internal/session"
)

// Handler counts consecutive pipeline failures per user.
type Handler struct {
	mu         sync.Mutex
	failures   map[string]int
	authFailed map[string]bool
	threshold  int
	log        *logging.Logger
}

// NewHandler creates a recovery handler with the given failure threshold.
func NewHandler(threshold int, log *logging.Logger) *Handler {
	return &Handler{
		failures:   make(map[string]int),
		authFailed: make(map[string]bool),
		threshold:  threshold,
		log:        log.Sub("recovery"),
	}
}

// RecordFailure increments the user's consecutive failure count and
// returns the new value.
func (h *Handler) RecordFailure(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[userID]++
	return h.failures[userID]
}

// ClearFailures resets the user's count. Call on any successful batch.
func (h *Handler) ClearFailures(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, userID)
}

// Failures returns the current count for a user.
func (h *Handler) Failures(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[userID]
}

// NeedsRefresh reports whether the user has hit the threshold and a
// recovery attempt should precede the next command.
func (h *Handler) NeedsRefresh(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[userID] >= h.threshold
}

// AuthLocked reports whether recovery is suspended for the user after a
// rejected login. Fresh credentials lift the lock via ResetAuth.
func (h *Handler) AuthLocked(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.authFailed[userID]
}

// ResetAuth lifts the auth lock, typically after credentials are rewritten.
func (h *Handler) ResetAuth(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.authFailed, userID)
}

// AttemptRecovery resets the session's browser state and re-authenticates.
// The caller must hold the session's run lock. On success the session is
// marked logged in and the caller should ClearFailures. On failure the
// count is left untouched so the caller decides whether to escalate.
//
// A rejected login additionally latches the auth lock: retrying the same
// credentials in a loop cannot succeed, so recovery stays suspended until
// ResetAuth.
func (h *Handler) AttemptRecovery(ctx context.Context, sess *session.Session, creds domain.Credentials) (bool, string) {
	h.log.Info().Str("user", sess.UserID).Msg("attempting session recovery")

	if err := sess.Handle.Reset(ctx); err != nil {
		h.log.Error().Err(err).Str("user", sess.UserID).Msg("handle reset failed")
		return false, "no se pudo reiniciar la sesión"
	}
	sess.Exec.Reset()
	sess.LoggedIn = false

	if err := sess.Handle.Login(ctx, creds); err != nil {
		if driver.KindOf(err) == driver.KindAuth {
			h.mu.Lock()
			h.authFailed[sess.UserID] = true
			h.mu.Unlock()
			h.log.Warn().Str("user", sess.UserID).Msg("credentials rejected during recovery")
			return false, "credenciales rechazadas, actualiza tu usuario y contraseña"
		}
		h.log.Error().Err(err).Str("user", sess.UserID).Msg("re-login failed")
		return false, "no se pudo iniciar sesión de nuevo"
	}

	sess.LoggedIn = true
	h.log.Info().Str("user", sess.UserID).Msg("session recovered")
	return true, ""
}
