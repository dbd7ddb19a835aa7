package conversation

import (
	"fmt"
	"time"
)

// ClinicLocation returns the *time.Location for a clinic timezone string.
// Falls back to UTC if the timezone is invalid or empty.
func ClinicLocation(timezone string) *time.Location {
	if timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var spanishWeekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

var spanishMonths = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio",
	"agosto", "septiembre", "octubre", "noviembre", "diciembre"}

// FormatLongDate renders a date the way patients read it, e.g.
// "miércoles, 5 de marzo".
func FormatLongDate(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s", spanishWeekdays[t.Weekday()], t.Day(), spanishMonths[t.Month()-1])
}

// FormatClockTime renders a 12-hour time such as "03:04 p. m.".
func FormatClockTime(t time.Time) string {
	suffix := "a. m."
	if t.Hour() >= 12 {
		suffix = "p. m."
	}
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%02d:%02d %s", hour, t.Minute(), suffix)
}
