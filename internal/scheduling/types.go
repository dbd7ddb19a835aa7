// Package scheduling allocates daily capacity for clinic requests and assigns
// per-day turn numbers.
package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-intake/internal/textnorm"
)

// RequestType is the kind of request a patient asks to schedule.
type RequestType string

const (
	TypeConsulta  RequestType = "consulta"
	TypeReembolso RequestType = "reembolso"
	TypeEcor      RequestType = "ecor"
)

// Category is the authoritative classification stored with every record.
// It is set once at creation time and never re-derived from free text.
type Category string

const (
	CategoryConsulta   Category = "consulta"
	CategoryEcor       Category = "ecor"
	CategoryReembolso  Category = "reembolso"
	CategoryEmergencia Category = "emergencia"
)

// Turn prefixes. Consulta and ECOR share the C sequence.
const (
	PrefixConsulta  = "C"
	PrefixReembolso = "R"
	PrefixEmergency = "E"
)

// Category returns the stored category for the request type.
func (t RequestType) Category() Category {
	switch t {
	case TypeEcor:
		return CategoryEcor
	case TypeReembolso:
		return CategoryReembolso
	default:
		return CategoryConsulta
	}
}

// Prefix returns the one-letter turn prefix.
func (t RequestType) Prefix() string {
	if t == TypeReembolso {
		return PrefixReembolso
	}
	return PrefixConsulta
}

// CapacityClass returns the categories whose records consume the same daily
// capacity and turn sequence as t.
func (t RequestType) CapacityClass() []Category {
	if t == TypeReembolso {
		return []Category{CategoryReembolso}
	}
	return []Category{CategoryConsulta, CategoryEcor}
}

// CapacityKey names the configured limit that applies to t on date.
// Consulta has its own limit on Wednesdays.
func CapacityKey(t RequestType, date time.Time) string {
	switch t {
	case TypeReembolso:
		return "reembolso"
	default:
		if date.Weekday() == time.Wednesday {
			return "consulta_miercoles"
		}
		return "consulta"
	}
}

var ecorKeywords = []string{"ecor", "examen fisico anual"}

// IsEcorSubtype reports whether a free-text consultation subtype names the
// annual physical exam.
func IsEcorSubtype(subtype string) bool {
	folded := textnorm.Fold(subtype)
	if folded == "" {
		return false
	}
	for _, kw := range ecorKeywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// Patient holds the identifying fields collected in chat.
type Patient struct {
	FirstName   string
	LastName    string
	ID          string
	PayrollType string
	Department  string
}

// SlotRequest asks the engine for the next eligible date.
type SlotRequest struct {
	Type           RequestType
	DesiredWeekday *time.Weekday
	Subtype        string
	Patient        Patient
	ConversationID string
}

// EffectiveType resolves ECOR requests tagged only through their subtype.
func (r SlotRequest) EffectiveType() RequestType {
	if r.Type == TypeEcor {
		return TypeEcor
	}
	if r.Type == TypeConsulta && IsEcorSubtype(r.Subtype) {
		return TypeEcor
	}
	if r.Type == "" {
		return TypeConsulta
	}
	return r.Type
}

// NewRequest is a record ready to be inserted with the next turn number.
type NewRequest struct {
	ID               uuid.UUID
	Category         Category
	Prefix           string
	AssignedDate     time.Time
	RegistrationTime string // clinic-local time of day, TimeOfDayLayout
	Subtype          string
	Patient          Patient
	ConversationID   string
}

// StoredRequest is a persisted allocation or emergency record.
type StoredRequest struct {
	ID               uuid.UUID
	Category         Category
	TurnNumber       string
	TurnSeq          int
	AssignedDate     time.Time
	RegistrationTime string
	Subtype          string
	Motive           string
	Patient          Patient
	ConversationID   string
	CreatedAt        time.Time
}

// AllocationResult is the successful outcome of Allocate.
type AllocationResult struct {
	AssignedDate time.Time
	TurnNumber   string
	Record       StoredRequest
}

// EmergencyReport is the minimal incident record written for emergencies.
type EmergencyReport struct {
	Motive         string
	ConversationID string
}

// FormatTurn renders a turn number such as C-007. Sequences above 999 keep
// all their digits.
func FormatTurn(prefix string, seq int) string {
	return fmt.Sprintf("%s-%03d", prefix, seq)
}

// TimeOfDayLayout renders registration times, stored in a TIME column.
const TimeOfDayLayout = "15:04:05"

// DateKey renders the calendar date used by stores.
func DateKey(date time.Time) string {
	return date.Format("2006-01-02")
}
