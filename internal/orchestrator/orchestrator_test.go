package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/fichabot/internal/conversation"
	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/driver"
	"github.com/soyeahso/fichabot/internal/interpreter"
	"github.com/soyeahso/fichabot/internal/logging"
	"github.com/soyeahso/fichabot/internal/pipeline"
	"github.com/soyeahso/fichabot/internal/recovery"
	"github.com/soyeahso/fichabot/internal/session"
	"github.com/soyeahso/fichabot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreds struct {
	mu sync.Mutex
	m  map[string]domain.Credentials
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{m: make(map[string]domain.Credentials)}
}

func (f *fakeCreds) Get(userID string) (domain.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, ok := f.m[userID]
	if !ok {
		return domain.Credentials{}, store.ErrNoCredentials
	}
	return creds, nil
}

func (f *fakeCreds) Set(userID string, creds domain.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[userID] = creds
	return nil
}

type fixture struct {
	orch   *Orchestrator
	pool   *session.Pool
	conv   *conversation.Manager
	recov  *recovery.Handler
	opener *driver.MockOpener
	creds  *fakeCreds
	interp *interpreter.Mock
}

func newFixture(t *testing.T, opener *driver.MockOpener) *fixture {
	t.Helper()
	log := logging.New(nil, "silent")
	if opener == nil {
		opener = &driver.MockOpener{}
	}

	f := &fixture{
		pool: session.NewPool(session.PoolConfig{
			MaxSessions:    3,
			SessionTimeout: time.Minute,
			SweepInterval:  time.Minute,
		}, opener, nil, log),
		conv:   conversation.NewManager(5*time.Minute, time.Minute, log),
		recov:  recovery.NewHandler(2, log),
		opener: opener,
		creds:  newFakeCreds(),
		interp: &interpreter.Mock{},
	}
	f.creds.Set("alice", domain.Credentials{Username: "alice@corp", Password: "pw"})
	f.orch = New(f.pool, f.conv, f.recov, pipeline.New(log), f.interp, f.creds, nil, log)
	t.Cleanup(func() { f.pool.CloseAll(context.Background()) })
	return f
}

func TestHandleMessage_HappyPath(t *testing.T) {
	handle := &driver.MockHandle{}
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) {
			return handle, nil
		},
	}
	f := newFixture(t, opener)
	f.interp.InterpretFunc = func(ctx context.Context, userID, text string) ([]domain.Action, error) {
		return []domain.Action{
			domain.SelectProject{Name: "Desarrollo"},
			domain.ImputeHoursDay{Day: "lunes", Hours: 3},
		}, nil
	}

	results := f.orch.HandleMessage(context.Background(), "alice", "imputa 3 horas el lunes en Desarrollo")

	require.Len(t, results, 2)
	assert.Equal(t, []string{"login", "resolve", "write_hours"}, handle.Calls())

	// Second message reuses the session and the login.
	f.orch.HandleMessage(context.Background(), "alice", "otra vez")
	assert.Equal(t, []string{"login", "resolve", "write_hours", "resolve", "write_hours"}, handle.Calls())
	assert.Equal(t, []string{"alice"}, f.opener.Opened(), "one handle for both messages")
}

func TestHandleMessage_DateRunsFirst(t *testing.T) {
	handle := &driver.MockHandle{}
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) { return handle, nil },
	}
	f := newFixture(t, opener)
	f.interp.InterpretFunc = func(ctx context.Context, userID, text string) ([]domain.Action, error) {
		return []domain.Action{
			domain.SelectProject{Name: "Desarrollo"},
			domain.SelectDate{Date: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)},
		}, nil
	}

	f.orch.HandleMessage(context.Background(), "alice", "en Desarrollo la semana del 24")

	assert.Equal(t, []string{"login", "navigate", "resolve"}, handle.Calls())
}

func TestHandleMessage_NoCredentials(t *testing.T) {
	f := newFixture(t, nil)

	results := f.orch.HandleMessage(context.Background(), "carol", "imputa 3 horas")

	require.Len(t, results, 1)
	assert.Contains(t, string(results[0].(domain.Text)), "credenciales")
}

func TestHandleMessage_EmptyMessage(t *testing.T) {
	f := newFixture(t, nil)

	results := f.orch.HandleMessage(context.Background(), "alice", "   ")

	require.Len(t, results, 1)
	assert.Empty(t, f.opener.Opened(), "no session opened for empty input")
}

func TestHandleMessage_SessionInitFailure(t *testing.T) {
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) {
			return nil, errors.New("chromedriver down")
		},
	}
	f := newFixture(t, opener)

	results := f.orch.HandleMessage(context.Background(), "alice", "guarda")

	require.Len(t, results, 1)
	assert.Contains(t, string(results[0].(domain.Text)), "navegador")
}

func ambiguousCandidates() []domain.Candidate {
	return []domain.Candidate{
		{ProjectName: "Desarrollo", ParentNodeName: "Comercial", FullPath: "Comercial/Desarrollo"},
		{ProjectName: "Desarrollo", ParentNodeName: "Staff", FullPath: "Staff/Desarrollo"},
	}
}

// disambiguationFixture resolves ambiguously until a parent node is given.
func disambiguationFixture(t *testing.T) (*fixture, *driver.MockHandle) {
	handle := &driver.MockHandle{
		ResolveFunc: func(ctx context.Context, name, parent string) (driver.Resolution, error) {
			if parent == "" {
				return driver.Resolution{Status: driver.StatusAmbiguous, Candidates: ambiguousCandidates()}, nil
			}
			return driver.Resolution{Status: driver.StatusResolved, Row: driver.RowRef{ID: "row-" + parent}}, nil
		},
	}
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) { return handle, nil },
	}
	f := newFixture(t, opener)
	f.interp.InterpretFunc = func(ctx context.Context, userID, text string) ([]domain.Action, error) {
		return []domain.Action{
			domain.SelectProject{Name: "Desarrollo"},
			domain.ImputeHoursDay{Day: "lunes", Hours: 3},
		}, nil
	}
	return f, handle
}

func TestHandleMessage_DisambiguationRoundTrip(t *testing.T) {
	f, handle := disambiguationFixture(t)

	results := f.orch.HandleMessage(context.Background(), "alice", "imputa 3 horas el lunes en Desarrollo")

	require.Len(t, results, 1)
	d, ok := results[0].(domain.NeedsDisambiguation)
	require.True(t, ok)
	assert.Len(t, d.Candidates, 2)
	require.True(t, f.conv.HasPending("alice"))

	// The reply is not re-interpreted; it answers the open question.
	results = f.orch.HandleMessage(context.Background(), "alice", "2")

	require.Len(t, results, 2)
	assert.False(t, f.conv.HasPending("alice"))
	assert.Equal(t, []string{"login", "resolve", "resolve", "write_hours"}, handle.Calls())
	assert.Equal(t, []string{"imputa 3 horas el lunes en Desarrollo"}, f.interp.Seen())
}

func TestHandleMessage_DisambiguationCancel(t *testing.T) {
	f, handle := disambiguationFixture(t)

	f.orch.HandleMessage(context.Background(), "alice", "imputa 3 horas el lunes en Desarrollo")
	results := f.orch.HandleMessage(context.Background(), "alice", "cancelar")

	require.Len(t, results, 1)
	assert.False(t, f.conv.HasPending("alice"))
	assert.Equal(t, []string{"login", "resolve"}, handle.Calls(), "nothing executed after cancel")
}

func TestHandleMessage_DisambiguationReask(t *testing.T) {
	f, _ := disambiguationFixture(t)

	f.orch.HandleMessage(context.Background(), "alice", "imputa 3 horas el lunes en Desarrollo")
	results := f.orch.HandleMessage(context.Background(), "alice", "9")

	require.Len(t, results, 1)
	txt := string(results[0].(domain.Text))
	assert.Contains(t, txt, "Comercial/Desarrollo")
	assert.True(t, f.conv.HasPending("alice"), "question stays open")
}

func TestHandleMessage_ConfirmationYes(t *testing.T) {
	cand := []domain.Candidate{{ProjectName: "Soporte", ParentNodeName: "Staff", FullPath: "Staff/Soporte", TotalHours: 12}}
	confirmed := false
	handle := &driver.MockHandle{
		ResolveFunc: func(ctx context.Context, name, parent string) (driver.Resolution, error) {
			if parent == "" {
				return driver.Resolution{Status: driver.StatusNeedsConfirmation, Candidates: cand}, nil
			}
			confirmed = true
			return driver.Resolution{Status: driver.StatusResolved, Row: driver.RowRef{ID: "r1"}}, nil
		},
	}
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) { return handle, nil },
	}
	f := newFixture(t, opener)
	f.interp.InterpretFunc = func(ctx context.Context, userID, text string) ([]domain.Action, error) {
		return []domain.Action{domain.SelectProject{Name: "Soporte"}}, nil
	}

	results := f.orch.HandleMessage(context.Background(), "alice", "ponme en Soporte")
	require.Len(t, results, 1)
	assert.IsType(t, domain.NeedsConfirmation{}, results[0])

	results = f.orch.HandleMessage(context.Background(), "alice", "sí")
	require.Len(t, results, 1)
	assert.True(t, confirmed)
	assert.False(t, f.conv.HasPending("alice"))
}

func TestHandleMessage_ConfirmationWithoutOptions(t *testing.T) {
	handle := &driver.MockHandle{
		ResolveFunc: func(ctx context.Context, name, parent string) (driver.Resolution, error) {
			return driver.Resolution{Status: driver.StatusNeedsConfirmation}, nil
		},
	}
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) { return handle, nil },
	}
	f := newFixture(t, opener)
	f.interp.InterpretFunc = func(ctx context.Context, userID, text string) ([]domain.Action, error) {
		return []domain.Action{domain.SelectProject{Name: "Soporte"}}, nil
	}

	f.orch.HandleMessage(context.Background(), "alice", "ponme en Soporte")
	require.True(t, f.conv.HasPending("alice"))

	// An affirmative reply to a question with no options must answer with
	// text, not crash.
	results := f.orch.HandleMessage(context.Background(), "alice", "sí")

	require.Len(t, results, 1)
	assert.Contains(t, string(results[0].(domain.Text)), "opciones")
	assert.False(t, f.conv.HasPending("alice"))
}

func TestHandleMessage_LoginFailuresTriggerRecovery(t *testing.T) {
	loginDown := true
	handle := &driver.MockHandle{
		LoginFunc: func(ctx context.Context, creds domain.Credentials) error {
			if loginDown {
				return driver.NewError(driver.KindInfra, "login", errors.New("gateway timeout"))
			}
			return nil
		},
	}
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) { return handle, nil },
	}
	f := newFixture(t, opener)

	f.orch.HandleMessage(context.Background(), "alice", "guarda")
	f.orch.HandleMessage(context.Background(), "alice", "guarda")
	assert.True(t, f.recov.NeedsRefresh("alice"))

	loginDown = false
	results := f.orch.HandleMessage(context.Background(), "alice", "guarda")

	require.Len(t, results, 1)
	assert.Contains(t, handle.Calls(), "reset", "session refreshed after repeated login failures")
	assert.False(t, f.recov.NeedsRefresh("alice"))
}

func TestHandleMessage_RecoveryAfterThreshold(t *testing.T) {
	failing := true
	handle := &driver.MockHandle{
		ResolveFunc: func(ctx context.Context, name, parent string) (driver.Resolution, error) {
			if failing {
				return driver.Resolution{}, driver.NewError(driver.KindCritical, "resolve", errors.New("no match"))
			}
			return driver.Resolution{Status: driver.StatusResolved, Row: driver.RowRef{ID: "r1"}}, nil
		},
	}
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) { return handle, nil },
	}
	f := newFixture(t, opener)
	f.interp.InterpretFunc = func(ctx context.Context, userID, text string) ([]domain.Action, error) {
		return []domain.Action{domain.SelectProject{Name: "Ghost"}}, nil
	}

	f.orch.HandleMessage(context.Background(), "alice", "ghost")
	f.orch.HandleMessage(context.Background(), "alice", "ghost")
	assert.True(t, f.recov.NeedsRefresh("alice"))

	failing = false
	results := f.orch.HandleMessage(context.Background(), "alice", "ghost")

	require.Len(t, results, 1)
	calls := handle.Calls()
	assert.Contains(t, calls, "reset", "session refreshed before the batch")
	assert.False(t, f.recov.NeedsRefresh("alice"))
}

func TestHandleMessage_AuthLockBlocksUntilNewCredentials(t *testing.T) {
	authFail := true
	handle := &driver.MockHandle{
		LoginFunc: func(ctx context.Context, creds domain.Credentials) error {
			if authFail {
				return driver.NewError(driver.KindAuth, "login", errors.New("rejected"))
			}
			return nil
		},
	}
	opens := 0
	opener := &driver.MockOpener{
		OpenFunc: func(ctx context.Context, userID string) (driver.Handle, error) {
			opens++
			return handle, nil
		},
	}
	f := newFixture(t, opener)
	f.recov.RecordFailure("alice")
	f.recov.RecordFailure("alice")

	results := f.orch.HandleMessage(context.Background(), "alice", "guarda")
	require.Len(t, results, 1)
	assert.Contains(t, string(results[0].(domain.Text)), "credenciales")
	assert.True(t, f.recov.AuthLocked("alice"))

	// Locked: no further login attempts with the same credentials.
	before := len(handle.Calls())
	f.orch.HandleMessage(context.Background(), "alice", "guarda")
	assert.Len(t, handle.Calls(), before)

	authFail = false
	require.NoError(t, f.orch.UpdateCredentials(context.Background(), "alice", domain.Credentials{Username: "new", Password: "new"}))
	assert.False(t, f.recov.AuthLocked("alice"))

	results = f.orch.HandleMessage(context.Background(), "alice", "guarda")
	require.Len(t, results, 1)
	assert.Equal(t, 2, opens, "fresh session after credential change")
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleMessage(context.Background(), "alice", "guarda")
	require.Equal(t, 1, f.pool.Size())

	assert.True(t, f.orch.CloseSession(context.Background(), "alice"))
	assert.Equal(t, 0, f.pool.Size())
	assert.False(t, f.orch.CloseSession(context.Background(), "alice"))
}

func TestDateFirstPreservesOrder(t *testing.T) {
	d1 := domain.SelectDate{Date: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)}
	actions := dateFirst([]domain.Action{
		domain.SelectProject{Name: "A"},
		d1,
		domain.SaveLine{},
	})

	require.Len(t, actions, 3)
	assert.Equal(t, d1, actions[0])
	assert.Equal(t, domain.SelectProject{Name: "A"}, actions[1])
	assert.Equal(t, domain.SaveLine{}, actions[2])
}
