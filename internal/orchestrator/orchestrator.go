// Package orchestrator coordinates one user message end to end: session
// acquisition, authentication, recovery, interpretation and execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/fichabot/internal/conversation"
	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/driver"
	"github.com/soyeahso/fichabot/internal/interpreter"
	"github.com/soyeahso/fichabot/internal/logging"
	"github.com/soyeahso/fichabot/internal/pipeline"
	"github.com/soyeahso/fichabot/internal/recovery"
	"github.com/soyeahso/fichabot/internal/session"
	"github.com/soyeahso/fichabot/internal/store"
)

// CredentialSource yields stored timesheet credentials per user.
type CredentialSource interface {
	Get(userID string) (domain.Credentials, error)
	Set(userID string, creds domain.Credentials) error
}

// Auditor records processed messages. Implementations must not block.
type Auditor interface {
	Record(userID, message, outcome string, results int)
}

// Orchestrator is the single entry point for user messages. All per-user
// work runs under the session's run lock, so messages from the same user
// execute strictly one at a time while different users proceed in parallel.
type Orchestrator struct {
	pool   *session.Pool
	conv   *conversation.Manager
	recov  *recovery.Handler
	pipe   *pipeline.Pipeline
	interp interpreter.Interpreter
	creds  CredentialSource
	audit  Auditor
	log    *logging.Logger
}

// New creates an orchestrator. audit may be nil.
func New(
	pool *session.Pool,
	conv *conversation.Manager,
	recov *recovery.Handler,
	pipe *pipeline.Pipeline,
	interp interpreter.Interpreter,
	creds CredentialSource,
	audit Auditor,
	log *logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		pool:   pool,
		conv:   conv,
		recov:  recov,
		pipe:   pipe,
		interp: interp,
		creds:  creds,
		audit:  audit,
		log:    log.Sub("orchestrator"),
	}
}

// HandleMessage processes one message and returns the results to present.
// It never returns an error: every failure mode has a user-facing answer.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, text string) []domain.ActionResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return o.finish(userID, text, "empty", []domain.ActionResult{domain.Text("Dime qué necesitas hacer en el parte")})
	}

	var actions []domain.Action
	if pending := o.conv.GetPending(userID); pending != nil {
		resolved, results := o.resolvePending(userID, text, pending)
		if resolved == nil {
			return o.finish(userID, text, "pending", results)
		}
		actions = resolved
	} else {
		var err error
		actions, err = o.interp.Interpret(ctx, userID, text)
		if err != nil {
			o.log.Error().Err(err).Str("user", userID).Msg("interpretation failed")
			return o.finish(userID, text, "error", []domain.ActionResult{domain.Text("No he entendido el mensaje, inténtalo de otra forma")})
		}
	}
	actions = dateFirst(actions)

	results := o.execute(ctx, userID, text, actions)
	return results
}

// resolvePending handles a reply to an open disambiguation or confirmation
// question. It returns either the rewritten action batch to execute, or the
// results to answer with directly.
func (o *Orchestrator) resolvePending(userID, text string, pending *conversation.Pending) ([]domain.Action, []domain.ActionResult) {
	if conversation.IsCancellation(text) {
		o.conv.Clear(userID)
		return nil, []domain.ActionResult{domain.Text("Vale, lo dejamos como está")}
	}

	// A pending question without options cannot be answered; drop it
	// instead of indexing into an empty candidate list.
	if len(pending.Candidates) == 0 {
		o.conv.Clear(userID)
		return nil, []domain.ActionResult{domain.Text(fmt.Sprintf("He perdido las opciones para %s, vuelve a pedírmelo", pending.ProjectName))}
	}

	var chosen domain.Candidate
	if pending.Confirmation && conversation.IsAffirmation(text) {
		chosen = pending.Candidates[0]
	} else {
		var ok bool
		chosen, ok = conversation.Resolve(text, pending.Candidates)
		if !ok {
			// Keep the question open and ask again.
			return nil, []domain.ActionResult{domain.Text(reask(pending))}
		}
	}
	o.conv.Clear(userID)

	// Pin the ambiguous selection to the chosen hierarchy location and
	// replay the rest of the batch.
	actions := make([]domain.Action, len(pending.Actions))
	copy(actions, pending.Actions)
	for i, a := range actions {
		if sp, ok := a.(domain.SelectProject); ok && sp.Name == pending.ProjectName {
			actions[i] = domain.SelectProject{Name: chosen.ProjectName, ParentNode: chosen.ParentNodeName}
			break
		}
	}
	o.log.Debug().Str("user", userID).Str("project", chosen.FullPath).Msg("disambiguation resolved")
	return actions, nil
}

// execute runs a batch under the user's session, creating and logging in
// the session as needed.
func (o *Orchestrator) execute(ctx context.Context, userID, text string, actions []domain.Action) []domain.ActionResult {
	sess, err := o.pool.Acquire(ctx, userID)
	if err != nil {
		return o.finish(userID, text, "rejected", []domain.ActionResult{acquireFailure(err)})
	}

	var results []domain.ActionResult
	outcome := "ok"
	sess.Run(func() {
		if msg, ok := o.ensureReady(ctx, sess); !ok {
			results = []domain.ActionResult{domain.Text(msg)}
			outcome = "error"
			return
		}
		results = o.pipe.Execute(ctx, sess, actions)

		if sess.Exec.CriticalError {
			outcome = "critical"
			n := o.recov.RecordFailure(userID)
			o.log.Warn().Str("user", userID).Int("consecutiveFailures", n).Msg("batch ended with critical error")
		} else {
			o.recov.ClearFailures(userID)
		}
	})

	// An interactive result is always last: the pipeline halts on it.
	if len(results) > 0 {
		switch r := results[len(results)-1].(type) {
		case domain.NeedsDisambiguation:
			o.conv.SavePending(userID, r.Project, r.Candidates, false, remaining(actions, len(results)))
			outcome = "pending"
		case domain.NeedsConfirmation:
			o.conv.SavePending(userID, r.Project, r.Candidates, true, remaining(actions, len(results)))
			outcome = "pending"
		}
	}
	return o.finish(userID, text, outcome, results)
}

// ensureReady refreshes a degraded session and performs the lazy login.
// Caller holds the session's run lock.
func (o *Orchestrator) ensureReady(ctx context.Context, sess *session.Session) (string, bool) {
	userID := sess.UserID

	if o.recov.NeedsRefresh(userID) {
		if o.recov.AuthLocked(userID) {
			return "Tus credenciales fueron rechazadas, actualízalas antes de seguir", false
		}
		creds, err := o.creds.Get(userID)
		if err != nil {
			return credentialFailure(err), false
		}
		if ok, msg := o.recov.AttemptRecovery(ctx, sess, creds); !ok {
			return msg, false
		}
		o.recov.ClearFailures(userID)
	}

	if !sess.LoggedIn {
		creds, err := o.creds.Get(userID)
		if err != nil {
			return credentialFailure(err), false
		}
		if err := sess.Handle.Login(ctx, creds); err != nil {
			o.log.Error().Err(err).Str("user", userID).Msg("login failed")
			// A failed login counts toward the refresh threshold like any
			// other batch failure, so a wedged session still gets reset.
			o.recov.RecordFailure(userID)
			if driver.KindOf(err) == driver.KindAuth {
				return "Credenciales rechazadas, actualiza tu usuario y contraseña", false
			}
			return "No he podido iniciar sesión en la aplicación, inténtalo de nuevo", false
		}
		sess.LoggedIn = true
		o.log.Info().Str("user", userID).Msg("logged in")
	}
	return "", true
}

// UpdateCredentials stores fresh credentials, lifts any auth lock and drops
// the user's current session so the next message logs in cleanly.
func (o *Orchestrator) UpdateCredentials(ctx context.Context, userID string, creds domain.Credentials) error {
	if err := o.creds.Set(userID, creds); err != nil {
		return fmt.Errorf("updating credentials: %w", err)
	}
	o.recov.ResetAuth(userID)
	o.recov.ClearFailures(userID)
	o.pool.Release(ctx, userID)
	return nil
}

// CloseSession drops a user's session and conversational state.
func (o *Orchestrator) CloseSession(ctx context.Context, userID string) bool {
	o.conv.Clear(userID)
	return o.pool.Release(ctx, userID)
}

func (o *Orchestrator) finish(userID, text, outcome string, results []domain.ActionResult) []domain.ActionResult {
	if o.audit != nil {
		o.audit.Record(userID, text, outcome, len(results))
	}
	return results
}

// dateFirst moves date selections to the front so the rest of the batch
// lands on the intended week. Relative order is otherwise preserved.
func dateFirst(actions []domain.Action) []domain.Action {
	dates := make([]domain.Action, 0, 1)
	rest := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		if _, ok := a.(domain.SelectDate); ok {
			dates = append(dates, a)
		} else {
			rest = append(rest, a)
		}
	}
	if len(dates) == 0 {
		return actions
	}
	return append(dates, rest...)
}

// remaining returns the suffix of the batch starting at the action that
// produced the interactive result, so already-applied work is not replayed.
func remaining(actions []domain.Action, executed int) []domain.Action {
	if executed-1 < 0 || executed-1 >= len(actions) {
		return nil
	}
	return actions[executed-1:]
}

func acquireFailure(err error) domain.ActionResult {
	switch {
	case errors.Is(err, session.ErrPoolExhausted):
		return domain.Text("Ahora mismo hay demasiadas sesiones activas, inténtalo en un momento")
	case errors.Is(err, session.ErrSessionInit):
		return domain.Text("No he podido abrir el navegador, inténtalo de nuevo")
	default:
		return domain.Text("No he podido preparar tu sesión, inténtalo de nuevo")
	}
}

func credentialFailure(err error) string {
	if errors.Is(err, store.ErrNoCredentials) {
		return "No tengo tus credenciales guardadas, configúralas primero"
	}
	return "No he podido leer tus credenciales"
}

func reask(p *conversation.Pending) string {
	var b strings.Builder
	if p.Confirmation {
		fmt.Fprintf(&b, "Sigo esperando tu confirmación para %s. ", p.ProjectName)
	} else {
		fmt.Fprintf(&b, "Sigo sin saber a qué %s te refieres. ", p.ProjectName)
	}
	b.WriteString("Opciones:")
	for i, c := range p.Candidates {
		fmt.Fprintf(&b, " %d. %s", i+1, c.FullPath)
	}
	b.WriteString(". Responde con el número o di cancelar")
	return b.String()
}
