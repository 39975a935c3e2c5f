// Package driver defines the capability surface of the browser-automation
// collaborator. The core never sees selectors or pages, only this interface.
package driver

import (
	"context"
	"time"

	"github.com/soyeahso/fichabot/internal/domain"
)

// RowRef is an opaque reference to one project row in the timesheet table.
// A reference can go stale when the page reloads; row-addressed operations
// then fail with a KindTransient error.
type RowRef struct {
	ID string
}

// Valid reports whether the reference points at a row.
func (r RowRef) Valid() bool { return r.ID != "" }

// ResolutionStatus describes the outcome of resolving a project name.
type ResolutionStatus string

const (
	// StatusResolved means exactly one existing row matched.
	StatusResolved ResolutionStatus = "resolved"
	// StatusCreated means the row did not exist and was created.
	StatusCreated ResolutionStatus = "created"
	// StatusAmbiguous means the name matched several hierarchy locations.
	StatusAmbiguous ResolutionStatus = "ambiguous"
	// StatusNeedsConfirmation means an existing in-table match was found
	// and must be confirmed before reuse.
	StatusNeedsConfirmation ResolutionStatus = "needs_confirmation"
)

// Resolution is the result of ResolveOrCreateProjectRow.
type Resolution struct {
	Status     ResolutionStatus
	Row        RowRef             // valid for StatusResolved / StatusCreated
	Candidates []domain.Candidate // populated for ambiguous / confirmation
}

// Handle is one logged-in automation session for one user.
// A Handle is not safe for concurrent use; the session layer serializes
// access to it.
type Handle interface {
	// Login authenticates against the timesheet application.
	Login(ctx context.Context, creds domain.Credentials) error

	// NavigateToDate moves the timesheet view to the week containing date.
	NavigateToDate(ctx context.Context, date time.Time) error

	// GoBack returns to the previous view.
	GoBack(ctx context.Context) error

	// ResolveOrCreateProjectRow finds the row for a project, creating it
	// when absent. parent narrows the hierarchy search; empty means any.
	// A name that resolves nowhere fails with KindCritical.
	ResolveOrCreateProjectRow(ctx context.Context, name, parent string) (Resolution, error)

	// WriteHours writes hours for one weekday on a row.
	WriteHours(ctx context.Context, row RowRef, day string, hours float64, mode domain.HoursMode) error

	// WriteWeek fills the whole visible week on a row.
	WriteWeek(ctx context.Context, row RowRef) error

	// ClearHours removes all hours for one weekday on a row.
	ClearHours(ctx context.Context, row RowRef, day string) error

	// DeleteRow removes a timesheet line by project name; empty name
	// targets the given row.
	DeleteRow(ctx context.Context, row RowRef, name string) error

	// CopyPreviousWeek copies the prior week's lines into the current week.
	CopyPreviousWeek(ctx context.Context) error

	// Save persists the current line.
	Save(ctx context.Context) error

	// Emit submits the current line for approval.
	Emit(ctx context.Context) error

	// StartShift clocks the user in.
	StartShift(ctx context.Context) error

	// EndShift clocks the user out.
	EndShift(ctx context.Context) error

	// Reset reloads the underlying browser state. Used by recovery before
	// re-authenticating.
	Reset(ctx context.Context) error

	// Close releases the browser resources. Safe to call more than once.
	Close(ctx context.Context) error
}

// Opener creates handles. The pool asks an Opener for a fresh handle each
// time it constructs a session.
type Opener interface {
	Open(ctx context.Context, userID string) (Handle, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, userID string) (Handle, error)

func (f OpenerFunc) Open(ctx context.Context, userID string) (Handle, error) {
	return f(ctx, userID)
}
