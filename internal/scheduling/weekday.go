package scheduling

import (
	"time"

	"github.com/wolfman30/clinic-intake/internal/textnorm"
)

var weekdayNames = map[string]time.Weekday{
	"lunes":     time.Monday,
	"martes":    time.Tuesday,
	"miercoles": time.Wednesday,
	"jueves":    time.Thursday,
	"viernes":   time.Friday,
	"sabado":    time.Saturday,
	"domingo":   time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
}

// ParseDesiredWeekday turns a weekday hint such as "Miércoles" or "el martes"
// into a business weekday. Weekend days and unknown text yield nil.
func ParseDesiredWeekday(s string) *time.Weekday {
	for _, word := range textnorm.Words(s) {
		day, ok := weekdayNames[word]
		if !ok {
			continue
		}
		if !isBusinessDay(day) {
			return nil
		}
		return &day
	}
	return nil
}

func isBusinessDay(day time.Weekday) bool {
	return day >= time.Monday && day <= time.Friday
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func addDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, t.Location())
}

// nextBusinessDay moves Saturday and Sunday forward to Monday.
func nextBusinessDay(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return addDays(t, 2)
	case time.Sunday:
		return addDays(t, 1)
	default:
		return t
	}
}
