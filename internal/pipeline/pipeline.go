// Package pipeline executes ordered action batches against one session.
package pipeline

import (
	"context"
	"fmt"

	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/driver"
	"github.com/soyeahso/fichabot/internal/logging"
	"github.com/soyeahso/fichabot/internal/session"
)

// control tells the batch loop whether to keep going after an action.
type control int

const (
	keepGoing control = iota
	haltBatch
)

// Pipeline runs actions strictly in order, one at a time, against the
// session's handle. It never returns an error: every failure becomes an
// ActionResult. The caller must hold the session's run lock.
type Pipeline struct {
	log *logging.Logger
}

// New creates a pipeline.
func New(log *logging.Logger) *Pipeline {
	return &Pipeline{log: log.Sub("pipeline")}
}

// Execute runs the batch. Processing stops early when an action signals a
// critical error or requires user input; results produced so far are
// always returned.
func (p *Pipeline) Execute(ctx context.Context, sess *session.Session, actions []domain.Action) []domain.ActionResult {
	results := make([]domain.ActionResult, 0, len(actions))
	sess.Exec.CriticalError = false

	for i, a := range actions {
		res, ctrl := p.run(ctx, sess, a)
		results = append(results, res)
		if ctrl == haltBatch {
			p.log.Debug().
				Int("executed", i+1).
				Int("total", len(actions)).
				Bool("critical", sess.Exec.CriticalError).
				Str("user", sess.UserID).
				Msg("batch halted")
			break
		}
	}
	return results
}

func (p *Pipeline) run(ctx context.Context, sess *session.Session, action domain.Action) (domain.ActionResult, control) {
	switch a := action.(type) {
	case domain.SelectDate:
		return p.selectDate(ctx, sess, a)
	case domain.GoBack:
		return p.simpleOp(ctx, sess, "go_back", "He vuelto a la vista anterior",
			"No he podido volver atrás", sess.Handle.GoBack)
	case domain.SelectProject:
		return p.selectProject(ctx, sess, a.Name, a.ParentNode)
	case domain.ImputeHoursDay:
		return p.imputeHoursDay(ctx, sess, a)
	case domain.ImputeHoursWeek:
		return p.imputeHoursWeek(ctx, sess)
	case domain.ClearAllHoursDay:
		return p.clearHoursDay(ctx, sess, a)
	case domain.StartShift:
		return p.simpleOp(ctx, sess, "start_shift", "Jornada iniciada",
			"No he podido iniciar la jornada", sess.Handle.StartShift)
	case domain.EndShift:
		return p.simpleOp(ctx, sess, "end_shift", "Jornada finalizada",
			"No he podido finalizar la jornada", sess.Handle.EndShift)
	case domain.SaveLine:
		return p.simpleOp(ctx, sess, "save", "Parte guardado",
			"No he podido guardar el parte", sess.Handle.Save)
	case domain.EmitLine:
		return p.simpleOp(ctx, sess, "emit", "Parte emitido",
			"No he podido emitir el parte", sess.Handle.Emit)
	case domain.DeleteLine:
		return p.deleteLine(ctx, sess, a)
	case domain.CopyPreviousWeek:
		return p.simpleOp(ctx, sess, "copy_previous_week", "Semana anterior copiada",
			"No he podido copiar la semana anterior", sess.Handle.CopyPreviousWeek)
	case domain.Unknown:
		p.log.Warn().Str("raw", a.Raw).Str("user", sess.UserID).Msg("unknown action")
		return domain.Text("No sé cómo hacer eso todavía"), keepGoing
	default:
		p.log.Warn().Str("user", sess.UserID).Msg("unhandled action variant")
		return domain.Text("No sé cómo hacer eso todavía"), keepGoing
	}
}

// selectDate records the date (bookkeeping that never fails) and navigates
// the timesheet. Crossing a week boundary invalidates the current row.
func (p *Pipeline) selectDate(ctx context.Context, sess *session.Session, a domain.SelectDate) (domain.ActionResult, control) {
	sess.Exec.SetDate(a.Date)

	if err := sess.Handle.NavigateToDate(ctx, a.Date); err != nil {
		p.log.Error().Err(err).Str("user", sess.UserID).Msg("navigate failed")
		if driver.KindOf(err) == driver.KindCritical {
			sess.Exec.CriticalError = true
			return domain.Text("No he podido abrir el parte de esa semana"), haltBatch
		}
		return domain.Text("No he podido ir a esa fecha"), keepGoing
	}
	return domain.Text(fmt.Sprintf("Semana del %s seleccionada", a.Date.Format("02/01/2006"))), keepGoing
}

// selectProject resolves (or creates) a project row. Multiple plausible
// matches do not execute anything: they produce a structured result and
// stop the batch so the caller can ask the user.
func (p *Pipeline) selectProject(ctx context.Context, sess *session.Session, name, parent string) (domain.ActionResult, control) {
	res, err := sess.Handle.ResolveOrCreateProjectRow(ctx, name, parent)
	if err != nil {
		if driver.KindOf(err) == driver.KindCritical {
			sess.Exec.CriticalError = true
			p.log.Warn().Str("user", sess.UserID).Str("project", name).Msg("project not found anywhere")
			return domain.Text(fmt.Sprintf("No he encontrado el proyecto %q en la jerarquía", name)), haltBatch
		}
		p.log.Error().Err(err).Str("user", sess.UserID).Str("project", name).Msg("project resolution failed")
		return domain.Text(fmt.Sprintf("No he podido seleccionar el proyecto %q", name)), keepGoing
	}

	switch res.Status {
	case driver.StatusAmbiguous:
		return domain.NeedsDisambiguation{Project: name, Candidates: res.Candidates}, haltBatch
	case driver.StatusNeedsConfirmation:
		return domain.NeedsConfirmation{Project: name, Candidates: res.Candidates}, haltBatch
	}

	sess.Exec.SetRow(res.Row, name, parent)
	if res.Status == driver.StatusCreated {
		return domain.Text(fmt.Sprintf("Proyecto %s añadido al parte", name)), keepGoing
	}
	return domain.Text(fmt.Sprintf("Proyecto %s seleccionado", name)), keepGoing
}

// simpleOp wraps operations whose only context effect is their own success.
func (p *Pipeline) simpleOp(ctx context.Context, sess *session.Session, op, okMsg, failMsg string, fn func(context.Context) error) (domain.ActionResult, control) {
	if err := fn(ctx); err != nil {
		p.log.Error().Err(err).Str("op", op).Str("user", sess.UserID).Msg("operation failed")
		if driver.KindOf(err) == driver.KindCritical {
			sess.Exec.CriticalError = true
			return domain.Text(failMsg), haltBatch
		}
		return domain.Text(failMsg), keepGoing
	}
	return domain.Text(okMsg), keepGoing
}

func (p *Pipeline) imputeHoursDay(ctx context.Context, sess *session.Session, a domain.ImputeHoursDay) (domain.ActionResult, control) {
	mode := a.Mode
	if mode == "" {
		mode = domain.HoursModeSum
	}

	fail, ctrl := p.rowOp(ctx, sess, "write_hours", func(row driver.RowRef) error {
		return sess.Handle.WriteHours(ctx, row, a.Day, a.Hours, mode)
	})
	if fail != nil {
		return fail, ctrl
	}

	if mode == domain.HoursModeSet {
		return domain.Text(fmt.Sprintf("Horas del %s fijadas a %gh en %s", a.Day, a.Hours, sess.Exec.CurrentProjectName)), keepGoing
	}
	return domain.Text(fmt.Sprintf("Añadidas %gh el %s en %s", a.Hours, a.Day, sess.Exec.CurrentProjectName)), keepGoing
}

func (p *Pipeline) imputeHoursWeek(ctx context.Context, sess *session.Session) (domain.ActionResult, control) {
	fail, ctrl := p.rowOp(ctx, sess, "write_week", func(row driver.RowRef) error {
		return sess.Handle.WriteWeek(ctx, row)
	})
	if fail != nil {
		return fail, ctrl
	}
	return domain.Text(fmt.Sprintf("Semana completada en %s", sess.Exec.CurrentProjectName)), keepGoing
}

func (p *Pipeline) clearHoursDay(ctx context.Context, sess *session.Session, a domain.ClearAllHoursDay) (domain.ActionResult, control) {
	fail, ctrl := p.rowOp(ctx, sess, "clear_hours", func(row driver.RowRef) error {
		return sess.Handle.ClearHours(ctx, row, a.Day)
	})
	if fail != nil {
		return fail, ctrl
	}
	return domain.Text(fmt.Sprintf("Horas del %s borradas en %s", a.Day, sess.Exec.CurrentProjectName)), keepGoing
}

// rowOp runs a row-addressed operation with the retry-once-on-staleness
// rule: a transient failure (stale row after a reload earlier in the same
// batch) triggers one re-resolution of the project from context and one
// retry. A second failure surfaces as text; the batch only halts if the
// re-resolution itself was critical.
//
// Returns a nil result on success so callers build their own message.
func (p *Pipeline) rowOp(ctx context.Context, sess *session.Session, op string, fn func(driver.RowRef) error) (domain.ActionResult, control) {
	exec := &sess.Exec

	if !exec.CurrentRow.Valid() {
		if exec.CurrentProjectName == "" {
			return domain.Text("Dime primero en qué proyecto imputar"), keepGoing
		}
		if res, ctrl := p.reselect(ctx, sess); res != nil {
			return res, ctrl
		}
	}

	err := fn(exec.CurrentRow)
	if err != nil && driver.KindOf(err) == driver.KindTransient {
		p.log.Debug().Str("op", op).Str("user", sess.UserID).Msg("stale row reference, re-resolving")
		if res, ctrl := p.reselect(ctx, sess); res != nil {
			return res, ctrl
		}
		err = fn(exec.CurrentRow)
	}

	if err != nil {
		p.log.Error().Err(err).Str("op", op).Str("user", sess.UserID).Msg("row operation failed")
		return domain.Text(fmt.Sprintf("No he podido actualizar las horas de %s", exec.CurrentProjectName)), keepGoing
	}
	return nil, keepGoing
}

// reselect re-resolves the project currently named in the execution
// context. Returns a non-nil result only on failure.
func (p *Pipeline) reselect(ctx context.Context, sess *session.Session) (domain.ActionResult, control) {
	exec := &sess.Exec

	res, err := sess.Handle.ResolveOrCreateProjectRow(ctx, exec.CurrentProjectName, exec.CurrentParentNode)
	if err != nil {
		if driver.KindOf(err) == driver.KindCritical {
			exec.CriticalError = true
			return domain.Text(fmt.Sprintf("He perdido la fila del proyecto %q y ya no aparece en el parte", exec.CurrentProjectName)), haltBatch
		}
		return domain.Text(fmt.Sprintf("No he podido recuperar la fila del proyecto %q", exec.CurrentProjectName)), keepGoing
	}

	switch res.Status {
	case driver.StatusResolved, driver.StatusCreated:
		exec.CurrentRow = res.Row
		return nil, keepGoing
	default:
		// A known name plus parent should never be ambiguous again.
		return domain.Text(fmt.Sprintf("No he podido recuperar la fila del proyecto %q", exec.CurrentProjectName)), keepGoing
	}
}

func (p *Pipeline) deleteLine(ctx context.Context, sess *session.Session, a domain.DeleteLine) (domain.ActionResult, control) {
	name := a.Name
	if name == "" {
		name = sess.Exec.CurrentProjectName
	}
	if name == "" && !sess.Exec.CurrentRow.Valid() {
		return domain.Text("Dime qué línea quieres eliminar"), keepGoing
	}

	if err := sess.Handle.DeleteRow(ctx, sess.Exec.CurrentRow, name); err != nil {
		p.log.Error().Err(err).Str("user", sess.UserID).Str("line", name).Msg("delete line failed")
		if driver.KindOf(err) == driver.KindCritical {
			sess.Exec.CriticalError = true
			return domain.Text(fmt.Sprintf("No he encontrado la línea %q", name)), haltBatch
		}
		return domain.Text(fmt.Sprintf("No he podido eliminar la línea %q", name)), keepGoing
	}

	if name == sess.Exec.CurrentProjectName {
		sess.Exec.ClearProject()
	}
	return domain.Text(fmt.Sprintf("Línea %s eliminada", name)), keepGoing
}
