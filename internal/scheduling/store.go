package scheduling

import (
	"context"
	"time"
)

// Store persists allocation records and answers capacity questions. Dates are
// calendar dates in the clinic time zone.
type Store interface {
	// CapacityLimit returns the configured limit for key.
	CapacityLimit(ctx context.Context, key string) (int, error)
	// UsedCount counts records on date whose category is in categories.
	UsedCount(ctx context.Context, categories []Category, date time.Time) (int, error)
	// HasExistingAppointment reports whether patientID holds a consulta or
	// ecor record on date.
	HasExistingAppointment(ctx context.Context, patientID string, date time.Time) (bool, error)
	// InsertWithNextTurn computes the next sequence for (prefix, date) and
	// inserts req atomically. It returns ErrTurnConflict when a concurrent
	// insert won the same sequence.
	InsertWithNextTurn(ctx context.Context, req NewRequest) (StoredRequest, error)
	// InsertEmergency stores an emergency record under the given turn id.
	InsertEmergency(ctx context.Context, rec StoredRequest) error
}

// Limits holds the default daily capacities keyed by CapacityKey.
type Limits map[string]int

// DefaultLimits mirrors the seeded capacity table.
func DefaultLimits() Limits {
	return Limits{
		"consulta":           20,
		"consulta_miercoles": 10,
		"reembolso":          15,
	}
}
