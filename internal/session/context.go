package session

import (
	"time"

	"github.com/soyeahso/fichabot/internal/driver"
)

// ExecutionContext is the mutable per-session state carried across actions
// in and across command batches. It is owned by the Session and mutated
// only by the pipeline while the session's run lock is held.
type ExecutionContext struct {
	SelectedDate       time.Time
	CurrentRow         driver.RowRef
	CurrentProjectName string
	CurrentParentNode  string
	CriticalError      bool
}

// HasDate reports whether a date has been selected.
func (c *ExecutionContext) HasDate() bool { return !c.SelectedDate.IsZero() }

// SetDate records the selected date. A row reference is only meaningful
// within the week it was resolved in, so crossing a week boundary drops it.
func (c *ExecutionContext) SetDate(d time.Time) {
	if c.HasDate() && !SameISOWeek(c.SelectedDate, d) {
		c.InvalidateRow()
	}
	c.SelectedDate = d
}

// SetRow records the resolved project row.
func (c *ExecutionContext) SetRow(row driver.RowRef, name, parent string) {
	c.CurrentRow = row
	c.CurrentProjectName = name
	c.CurrentParentNode = parent
}

// InvalidateRow drops the current row reference. The project identity is
// kept so the row can be re-resolved by name when next needed.
func (c *ExecutionContext) InvalidateRow() {
	c.CurrentRow = driver.RowRef{}
}

// ClearProject drops the row reference and the project identity, e.g.
// after the line itself was deleted.
func (c *ExecutionContext) ClearProject() {
	c.CurrentRow = driver.RowRef{}
	c.CurrentProjectName = ""
	c.CurrentParentNode = ""
}

// Reset clears all execution state.
func (c *ExecutionContext) Reset() {
	*c = ExecutionContext{}
}

// SameISOWeek reports whether a and b fall in the same ISO week.
func SameISOWeek(a, b time.Time) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.ISOWeek()
	return ay == by && aw == bw
}
