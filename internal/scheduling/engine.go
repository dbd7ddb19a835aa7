package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-intake/internal/observability/metrics"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

const (
	defaultCutoffHour    = 14
	defaultWindowDays    = 7
	defaultInsertRetries = 5
)

// Engine finds the next date with free capacity and assigns turn numbers.
type Engine struct {
	store         Store
	loc           *time.Location
	now           func() time.Time
	cutoffHour    int
	windowDays    int
	insertRetries int
	logger        *logging.Logger
	metrics       *metrics.ConversationMetrics
	tracer        trace.Tracer
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithLocation sets the clinic time zone.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCutoffHour sets the hour after which same-day service is closed.
func WithCutoffHour(hour int) EngineOption {
	return func(e *Engine) {
		if hour >= 0 && hour <= 24 {
			e.cutoffHour = hour
		}
	}
}

// WithSearchWindow sets how many calendar days are scanned for capacity.
func WithSearchWindow(days int) EngineOption {
	return func(e *Engine) {
		if days > 0 {
			e.windowDays = days
		}
	}
}

// WithInsertRetries bounds retries after a turn number conflict.
func WithInsertRetries(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.insertRetries = n
		}
	}
}

func WithLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.ConversationMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine wires an allocation engine over store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	if store == nil {
		panic("scheduling: store required")
	}
	e := &Engine{
		store:         store,
		loc:           time.UTC,
		now:           time.Now,
		cutoffHour:    defaultCutoffHour,
		windowDays:    defaultWindowDays,
		insertRetries: defaultInsertRetries,
		logger:        logging.Default(),
		tracer:        otel.Tracer("clinic.internal.scheduling"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the clinic time zone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// InitialSearchDate returns the first date eligible for service given the
// current time. Weekends roll to Monday and a business day past the cutoff
// hour rolls to the next business day.
func (e *Engine) InitialSearchDate(now time.Time) time.Time {
	local := now.In(e.loc)
	date := midnight(local)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return nextBusinessDay(date)
	}
	if local.Hour() >= e.cutoffHour {
		return nextBusinessDay(addDays(date, 1))
	}
	return date
}

// FindSlot resolves the date a request would be assigned without writing
// anything. Repeated calls with no intervening insert return the same date.
func (e *Engine) FindSlot(ctx context.Context, req SlotRequest) (time.Time, error) {
	ctx, span := e.tracer.Start(ctx, "scheduling.find_slot")
	defer span.End()

	reqType := req.EffectiveType()
	span.SetAttributes(attribute.String("request.type", string(reqType)))

	date := e.InitialSearchDate(e.now())
	if req.DesiredWeekday != nil && isBusinessDay(*req.DesiredWeekday) {
		for date.Weekday() != *req.DesiredWeekday {
			date = addDays(date, 1)
		}
	}

	if reqType == TypeEcor {
		date = nextBusinessDay(date)
	} else {
		found, err := e.scanCapacity(ctx, reqType, date)
		if err != nil {
			span.RecordError(err)
			return time.Time{}, err
		}
		date = found
	}

	if reqType != TypeReembolso && req.Patient.ID != "" {
		exists, err := e.store.HasExistingAppointment(ctx, req.Patient.ID, date)
		if err != nil {
			span.RecordError(err)
			return time.Time{}, persistenceError("check existing appointment", err)
		}
		if exists {
			return time.Time{}, &DuplicateAppointmentError{PatientID: req.Patient.ID, Date: date}
		}
	}
	return date, nil
}

func (e *Engine) scanCapacity(ctx context.Context, reqType RequestType, start time.Time) (time.Time, error) {
	class := reqType.CapacityClass()
	for i := 0; i < e.windowDays; i++ {
		day := addDays(start, i)
		if !isBusinessDay(day.Weekday()) {
			continue
		}
		limit, err := e.store.CapacityLimit(ctx, CapacityKey(reqType, day))
		if err != nil {
			return time.Time{}, persistenceError("capacity limit", err)
		}
		used, err := e.store.UsedCount(ctx, class, day)
		if err != nil {
			return time.Time{}, persistenceError("used count", err)
		}
		if limit-used > 0 {
			return day, nil
		}
	}
	return time.Time{}, ErrNoCapacityInWindow
}

// Allocate finds a slot and persists the request with the next turn number.
// A turn conflict restarts the search so capacity is re-checked.
func (e *Engine) Allocate(ctx context.Context, req SlotRequest) (AllocationResult, error) {
	ctx, span := e.tracer.Start(ctx, "scheduling.allocate")
	defer span.End()

	reqType := req.EffectiveType()
	for attempt := 1; ; attempt++ {
		date, err := e.FindSlot(ctx, req)
		if err != nil {
			e.observe(reqType, err)
			return AllocationResult{}, err
		}
		rec, err := e.store.InsertWithNextTurn(ctx, NewRequest{
			ID:               uuid.New(),
			Category:         reqType.Category(),
			Prefix:           reqType.Prefix(),
			AssignedDate:     date,
			RegistrationTime: e.now().In(e.loc).Format(TimeOfDayLayout),
			Subtype:          req.Subtype,
			Patient:          req.Patient,
			ConversationID:   req.ConversationID,
		})
		if err == nil {
			span.SetAttributes(attribute.String("turn.number", rec.TurnNumber))
			e.metrics.ObserveAllocation(string(reqType), "allocated")
			return AllocationResult{AssignedDate: date, TurnNumber: rec.TurnNumber, Record: rec}, nil
		}
		if errors.Is(err, ErrTurnConflict) && attempt < e.insertRetries {
			e.logger.Warn("turn number conflict, retrying", "type", reqType, "date", DateKey(date), "attempt", attempt)
			continue
		}
		span.RecordError(err)
		err = persistenceError("insert request", err)
		e.observe(reqType, err)
		return AllocationResult{}, err
	}
}

// RecordEmergency stores an emergency incident. Emergencies use their own
// identifier space and never consume capacity.
func (e *Engine) RecordEmergency(ctx context.Context, report EmergencyReport) (StoredRequest, error) {
	now := e.now().In(e.loc)
	rec := StoredRequest{
		ID:               uuid.New(),
		Category:         CategoryEmergencia,
		TurnNumber:       fmt.Sprintf("EMERGENCIA-%s", now.Format("150405")),
		AssignedDate:     midnight(now),
		RegistrationTime: now.Format(TimeOfDayLayout),
		Motive:           report.Motive,
		ConversationID:   report.ConversationID,
	}
	if err := e.store.InsertEmergency(ctx, rec); err != nil {
		e.metrics.ObserveAllocation(string(CategoryEmergencia), "error")
		return StoredRequest{}, persistenceError("insert emergency", err)
	}
	e.metrics.ObserveAllocation(string(CategoryEmergencia), "recorded")
	return rec, nil
}

func (e *Engine) observe(reqType RequestType, err error) {
	var dup *DuplicateAppointmentError
	switch {
	case errors.Is(err, ErrNoCapacityInWindow):
		e.metrics.ObserveAllocation(string(reqType), "no_capacity")
	case errors.As(err, &dup):
		e.metrics.ObserveAllocation(string(reqType), "duplicate")
	default:
		e.metrics.ObserveAllocation(string(reqType), "error")
	}
}
