package scheduling

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCapacityInWindow means no business day in the search window had a
	// free slot. It is a business outcome, not a system failure.
	ErrNoCapacityInWindow = errors.New("scheduling: no capacity in search window")

	// ErrTurnConflict is returned by stores when another insert took the same
	// (prefix, date, sequence). Callers recompute and retry.
	ErrTurnConflict = errors.New("scheduling: turn number already taken")

	// ErrPersistence wraps any store failure surfaced to callers.
	ErrPersistence = errors.New("scheduling: persistence failure")
)

// DuplicateAppointmentError reports that the patient already holds a
// consultation on the candidate date.
type DuplicateAppointmentError struct {
	PatientID string
	Date      time.Time
}

func (e *DuplicateAppointmentError) Error() string {
	return fmt.Sprintf("scheduling: patient %s already has an appointment on %s", e.PatientID, DateKey(e.Date))
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
