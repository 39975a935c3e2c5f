package interpreter

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/logging"
	"github.com/soyeahso/fichabot/internal/nldate"
)

// Rules is a pattern-based Interpreter for Spanish timesheet commands. It
// covers the command vocabulary directly; a conversational front end can
// swap in a smarter implementation behind the same interface.
type Rules struct {
	dates *nldate.Parser
	log   *logging.Logger
	nowFn func() time.Time
}

// NewRules builds the rules interpreter.
func NewRules(log *logging.Logger) *Rules {
	return &Rules{
		dates: nldate.NewParser(),
		log:   log.Sub("interpreter"),
		nowFn: time.Now,
	}
}

var (
	hoursRe = regexp.MustCompile(`(?i)\b(\d+(?:[.,]\d+)?)\s*h(?:oras?)?\b`)

	// "en el proyecto Desarrollo", "al proyecto Soporte de Staff"
	projectRe = regexp.MustCompile(`(?i)\bproyecto\s+(.+?)(?:\s+de\s+(\S.*?))?(?:\s+y\s|,|\.|$)`)

	deleteRe = regexp.MustCompile(`(?i)\b(?:elimina|borra|quita)\s+la\s+l[ií]nea(?:\s+de)?\s+(.+?)(?:\s+y\s|,|\.|$)`)
	clearRe  = regexp.MustCompile(`(?i)\bborra\s+(?:todas\s+)?las\s+horas\b`)
	weekRe   = regexp.MustCompile(`(?i)\b(?:imputa|rellena|completa)\s+(?:toda\s+)?la\s+semana\b`)
	copyRe   = regexp.MustCompile(`(?i)\bcopia\s+la\s+semana\s+(?:anterior|pasada)\b`)
	saveRe   = regexp.MustCompile(`(?i)\bguarda(?:r|me)?\b`)
	emitRe   = regexp.MustCompile(`(?i)\bemit(?:e|ir|eme)\b`)
	startRe  = regexp.MustCompile(`(?i)\b(?:inicia(?:r)?\s+(?:la\s+)?jornada|ficha(?:r)?\s+(?:la\s+)?entrada)\b`)
	endRe    = regexp.MustCompile(`(?i)\b(?:finaliza(?:r)?|termina(?:r)?)\s+(?:la\s+)?jornada\b|\bficha(?:r)?\s+(?:la\s+)?salida\b`)
	backRe   = regexp.MustCompile(`(?i)\b(?:vuelve|volver)\s+atr[aá]s\b`)
	setRe    = regexp.MustCompile(`(?i)\b(?:en\s+total|fija|deja(?:lo)?\s+en)\b`)
	dateCue  = regexp.MustCompile(`(?i)\b(?:semana\s+del?|ponme\s+en(?:\s+la\s+semana)?(?:\s+del?)?|vete?\s+a(?:\s+la\s+semana)?(?:\s+del?)?)\s+(.+?)(?:\s+y\s|,|\.|$)`)
)

// Interpret classifies one message. It never returns an error: text it
// cannot place becomes a single Unknown action so the pipeline can answer.
func (r *Rules) Interpret(ctx context.Context, userID, text string) ([]domain.Action, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []domain.Action{domain.Unknown{Raw: text}}, nil
	}
	now := r.nowFn()

	var actions []domain.Action

	if m := dateCue.FindStringSubmatch(text); m != nil {
		if d, ok := r.dates.Parse(m[1], now); ok {
			actions = append(actions, domain.SelectDate{Date: d})
		}
	}

	if m := projectRe.FindStringSubmatch(text); m != nil {
		actions = append(actions, domain.SelectProject{
			Name:       strings.TrimSpace(m[1]),
			ParentNode: strings.TrimSpace(m[2]),
		})
	}

	switch {
	case weekRe.MatchString(text):
		actions = append(actions, domain.ImputeHoursWeek{})
	case clearRe.MatchString(text):
		actions = append(actions, domain.ClearAllHoursDay{Day: r.dayIn(text, now)})
	default:
		if m := hoursRe.FindStringSubmatch(text); m != nil {
			hours, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
			if err == nil && hours > 0 {
				mode := domain.HoursModeSum
				if setRe.MatchString(text) {
					mode = domain.HoursModeSet
				}
				actions = append(actions, domain.ImputeHoursDay{
					Day:   r.dayIn(text, now),
					Hours: hours,
					Mode:  mode,
				})
			}
		}
	}

	if m := deleteRe.FindStringSubmatch(text); m != nil {
		actions = append(actions, domain.DeleteLine{Name: strings.TrimSpace(m[1])})
	}
	if copyRe.MatchString(text) {
		actions = append(actions, domain.CopyPreviousWeek{})
	}
	if startRe.MatchString(text) {
		actions = append(actions, domain.StartShift{})
	}
	if endRe.MatchString(text) {
		actions = append(actions, domain.EndShift{})
	}
	if saveRe.MatchString(text) {
		actions = append(actions, domain.SaveLine{})
	}
	if emitRe.MatchString(text) {
		actions = append(actions, domain.EmitLine{})
	}
	if backRe.MatchString(text) {
		actions = append(actions, domain.GoBack{})
	}

	// A bare date phrase is a week selection on its own.
	if len(actions) == 0 {
		if d, ok := r.dates.Parse(text, now); ok {
			actions = append(actions, domain.SelectDate{Date: d})
		}
	}

	if len(actions) == 0 {
		r.log.Debug().Str("user", userID).Str("text", text).Msg("no pattern matched")
		return []domain.Action{domain.Unknown{Raw: text}}, nil
	}
	return actions, nil
}

// dayIn finds the weekday a command refers to, defaulting to today.
func (r *Rules) dayIn(text string, now time.Time) string {
	for _, f := range strings.Fields(text) {
		if wd, ok := nldate.IsWeekday(strings.Trim(f, ".,")); ok {
			return nldate.DayName(wd)
		}
	}
	return nldate.DayName(now.Weekday())
}
