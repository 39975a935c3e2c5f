package domain

import "time"

// HoursMode selects how written hours combine with existing values.
type HoursMode string

const (
	HoursModeSum HoursMode = "sum"
	HoursModeSet HoursMode = "set"
)

// Action is one typed instruction to perform against a session.
// The set of variants is closed: every implementation lives in this package.
type Action interface {
	isAction()
}

// SelectDate navigates the timesheet to the week containing Date.
type SelectDate struct {
	Date time.Time
}

// GoBack returns to the previous timesheet view.
type GoBack struct{}

// SelectProject resolves (or creates) the row for a project.
// ParentNode disambiguates projects that exist under several hierarchy nodes;
// empty means "any".
type SelectProject struct {
	Name       string
	ParentNode string
}

// ImputeHoursDay writes hours into the currently selected row for one weekday.
type ImputeHoursDay struct {
	Day   string // "lunes".."domingo"
	Hours float64
	Mode  HoursMode
}

// ImputeHoursWeek fills the whole week of the currently selected row.
type ImputeHoursWeek struct{}

// ClearAllHoursDay removes all hours on one weekday of the selected row.
type ClearAllHoursDay struct {
	Day string
}

// StartShift clocks the user in.
type StartShift struct{}

// EndShift clocks the user out.
type EndShift struct{}

// SaveLine saves the current timesheet line.
type SaveLine struct{}

// EmitLine submits (emits) the current timesheet line for approval.
type EmitLine struct{}

// DeleteLine removes a timesheet line. Empty Name targets the selected row.
type DeleteLine struct {
	Name string
}

// CopyPreviousWeek copies the prior week's imputation into the current week.
type CopyPreviousWeek struct{}

// Unknown is the explicit fallback for an instruction the interpreter
// produced but this core does not understand.
type Unknown struct {
	Raw string
}

func (SelectDate) isAction()       {}
func (GoBack) isAction()           {}
func (SelectProject) isAction()    {}
func (ImputeHoursDay) isAction()   {}
func (ImputeHoursWeek) isAction()  {}
func (ClearAllHoursDay) isAction() {}
func (StartShift) isAction()       {}
func (EndShift) isAction()         {}
func (SaveLine) isAction()         {}
func (EmitLine) isAction()         {}
func (DeleteLine) isAction()       {}
func (CopyPreviousWeek) isAction() {}
func (Unknown) isAction()          {}
