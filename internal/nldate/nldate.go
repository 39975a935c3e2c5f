// Package nldate turns natural-language date phrases into concrete dates.
// Spanish forms are handled directly; anything else falls through to the
// when parser.
package nldate

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// weekday names as users type them, normalized (lowercase, no accents).
var weekdays = map[string]time.Weekday{
	"lunes":     time.Monday,
	"martes":    time.Tuesday,
	"miercoles": time.Wednesday,
	"jueves":    time.Thursday,
	"viernes":   time.Friday,
	"sabado":    time.Saturday,
	"domingo":   time.Sunday,
}

var (
	isoRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}))?\b`)

	stripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Parser resolves date phrases relative to a reference time.
type Parser struct {
	w *when.Parser
}

// NewParser builds a parser with the when fallback rules loaded.
func NewParser() *Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w}
}

// Parse resolves text to a date relative to now. The time-of-day portion of
// the result is meaningless; only the calendar day matters.
func (p *Parser) Parse(text string, now time.Time) (time.Time, bool) {
	t := normalize(text)
	if t == "" {
		return time.Time{}, false
	}

	if m := isoRe.FindStringSubmatch(t); m != nil {
		if d, err := time.ParseInLocation("2006-01-02", m[0], now.Location()); err == nil {
			return d, true
		}
	}
	if m := slashRe.FindStringSubmatch(t); m != nil {
		layout, raw := "2/1/2006", m[0]
		if m[3] == "" {
			layout = "2/1"
		}
		if d, err := time.ParseInLocation(layout, raw, now.Location()); err == nil {
			if m[3] == "" {
				d = d.AddDate(now.Year(), 0, 0)
			}
			return d, true
		}
	}

	day := truncate(now)
	switch {
	case containsWord(t, "hoy"):
		return day, true
	case containsWord(t, "manana") && !strings.Contains(t, "por la manana"):
		return day.AddDate(0, 0, 1), true
	case containsWord(t, "ayer"):
		return day.AddDate(0, 0, -1), true
	case strings.Contains(t, "semana pasada"):
		return day.AddDate(0, 0, -7), true
	case strings.Contains(t, "proxima semana") || strings.Contains(t, "semana que viene"):
		return day.AddDate(0, 0, 7), true
	}

	for _, f := range strings.Fields(t) {
		if wd, ok := weekdays[f]; ok {
			return weekdayInCurrentWeek(day, wd), true
		}
	}

	if r, err := p.w.Parse(text, now); err == nil && r != nil {
		return truncate(r.Time), true
	}
	return time.Time{}, false
}

// weekdayInCurrentWeek returns the given weekday within now's Monday-based
// week, so "el viernes" on a Saturday still means the week being edited.
func weekdayInCurrentWeek(now time.Time, wd time.Weekday) time.Time {
	offset := int(now.Weekday()-time.Monday+7) % 7
	monday := now.AddDate(0, 0, -offset)
	target := int(wd-time.Monday+7) % 7
	return monday.AddDate(0, 0, target)
}

// DayName returns the Spanish name for a weekday, as used in result text.
func DayName(wd time.Weekday) string {
	switch wd {
	case time.Monday:
		return "lunes"
	case time.Tuesday:
		return "martes"
	case time.Wednesday:
		return "miércoles"
	case time.Thursday:
		return "jueves"
	case time.Friday:
		return "viernes"
	case time.Saturday:
		return "sábado"
	default:
		return "domingo"
	}
}

// IsWeekday reports whether the normalized word names a weekday and which.
func IsWeekday(word string) (time.Weekday, bool) {
	wd, ok := weekdays[normalize(word)]
	return wd, ok
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func containsWord(text, word string) bool {
	for _, f := range strings.Fields(text) {
		if f == word {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	out, _, err := transform.String(stripper, s)
	if err != nil {
		return s
	}
	return out
}
