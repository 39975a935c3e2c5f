package driver

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/fichabot/internal/domain"
)

// MockHandle is a test double for Handle. Unset funcs succeed with
// zero-value results. Calls records every invoked operation in order.
type MockHandle struct {
	LoginFunc        func(ctx context.Context, creds domain.Credentials) error
	NavigateFunc     func(ctx context.Context, date time.Time) error
	GoBackFunc       func(ctx context.Context) error
	ResolveFunc      func(ctx context.Context, name, parent string) (Resolution, error)
	WriteHoursFunc   func(ctx context.Context, row RowRef, day string, hours float64, mode domain.HoursMode) error
	WriteWeekFunc    func(ctx context.Context, row RowRef) error
	ClearHoursFunc   func(ctx context.Context, row RowRef, day string) error
	DeleteRowFunc    func(ctx context.Context, row RowRef, name string) error
	CopyPrevWeekFunc func(ctx context.Context) error
	SaveFunc         func(ctx context.Context) error
	EmitFunc         func(ctx context.Context) error
	StartShiftFunc   func(ctx context.Context) error
	EndShiftFunc     func(ctx context.Context) error
	ResetFunc        func(ctx context.Context) error
	CloseFunc        func(ctx context.Context) error

	mu     sync.Mutex
	calls  []string
	closed bool
}

func (m *MockHandle) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
}

// Calls returns the operations invoked so far, in order.
func (m *MockHandle) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Closed reports whether Close has been called.
func (m *MockHandle) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockHandle) Login(ctx context.Context, creds domain.Credentials) error {
	m.record("login")
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, creds)
	}
	return nil
}

func (m *MockHandle) NavigateToDate(ctx context.Context, date time.Time) error {
	m.record("navigate")
	if m.NavigateFunc != nil {
		return m.NavigateFunc(ctx, date)
	}
	return nil
}

func (m *MockHandle) GoBack(ctx context.Context) error {
	m.record("go_back")
	if m.GoBackFunc != nil {
		return m.GoBackFunc(ctx)
	}
	return nil
}

func (m *MockHandle) ResolveOrCreateProjectRow(ctx context.Context, name, parent string) (Resolution, error) {
	m.record("resolve")
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, name, parent)
	}
	return Resolution{Status: StatusResolved, Row: RowRef{ID: "row-" + name}}, nil
}

func (m *MockHandle) WriteHours(ctx context.Context, row RowRef, day string, hours float64, mode domain.HoursMode) error {
	m.record("write_hours")
	if m.WriteHoursFunc != nil {
		return m.WriteHoursFunc(ctx, row, day, hours, mode)
	}
	return nil
}

func (m *MockHandle) WriteWeek(ctx context.Context, row RowRef) error {
	m.record("write_week")
	if m.WriteWeekFunc != nil {
		return m.WriteWeekFunc(ctx, row)
	}
	return nil
}

func (m *MockHandle) ClearHours(ctx context.Context, row RowRef, day string) error {
	m.record("clear_hours")
	if m.ClearHoursFunc != nil {
		return m.ClearHoursFunc(ctx, row, day)
	}
	return nil
}

func (m *MockHandle) DeleteRow(ctx context.Context, row RowRef, name string) error {
	m.record("delete_row")
	if m.DeleteRowFunc != nil {
		return m.DeleteRowFunc(ctx, row, name)
	}
	return nil
}

func (m *MockHandle) CopyPreviousWeek(ctx context.Context) error {
	m.record("copy_previous_week")
	if m.CopyPrevWeekFunc != nil {
		return m.CopyPrevWeekFunc(ctx)
	}
	return nil
}

func (m *MockHandle) Save(ctx context.Context) error {
	m.record("save")
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx)
	}
	return nil
}

func (m *MockHandle) Emit(ctx context.Context) error {
	m.record("emit")
	if m.EmitFunc != nil {
		return m.EmitFunc(ctx)
	}
	return nil
}

func (m *MockHandle) StartShift(ctx context.Context) error {
	m.record("start_shift")
	if m.StartShiftFunc != nil {
		return m.StartShiftFunc(ctx)
	}
	return nil
}

func (m *MockHandle) EndShift(ctx context.Context) error {
	m.record("end_shift")
	if m.EndShiftFunc != nil {
		return m.EndShiftFunc(ctx)
	}
	return nil
}

func (m *MockHandle) Reset(ctx context.Context) error {
	m.record("reset")
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx)
	}
	return nil
}

func (m *MockHandle) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.calls = append(m.calls, "close")
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc(ctx)
	}
	return nil
}

// MockOpener is a test double for Opener.
type MockOpener struct {
	OpenFunc func(ctx context.Context, userID string) (Handle, error)

	mu     sync.Mutex
	opened []string
}

func (m *MockOpener) Open(ctx context.Context, userID string) (Handle, error) {
	m.mu.Lock()
	m.opened = append(m.opened, userID)
	m.mu.Unlock()
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, userID)
	}
	return &MockHandle{}, nil
}

// Opened returns the user IDs handles were opened for, in order.
func (m *MockOpener) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.opened))
	copy(out, m.opened)
	return out
}
