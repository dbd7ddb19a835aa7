package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const uniqueViolation = "23505"

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps allocations in the intake_requests table.
type PostgresStore struct {
	db     rowQuerier
	tracer trace.Tracer
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return newPostgresStoreWithExec(pool)
}

func newPostgresStoreWithExec(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("scheduling: exec required")
	}
	return &PostgresStore{db: db, tracer: otel.Tracer("clinic.internal.scheduling.store")}
}

func (s *PostgresStore) CapacityLimit(ctx context.Context, key string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.capacity_limit", trace.WithAttributes(attribute.String("capacity.key", key)))
	defer span.End()

	var limit int
	err := s.db.QueryRow(ctx, `SELECT daily_limit FROM capacity_limits WHERE key = $1`, key).Scan(&limit)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("scheduling: unknown capacity key %q", key)
		}
		return 0, fmt.Errorf("scheduling: load capacity %s: %w", key, err)
	}
	return limit, nil
}

func (s *PostgresStore) UsedCount(ctx context.Context, categories []Category, date time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.used_count")
	defer span.End()

	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	query := `SELECT COUNT(*) FROM intake_requests WHERE category = ANY($1) AND assigned_date = $2::date`
	var count int
	if err := s.db.QueryRow(ctx, query, names, DateKey(date)).Scan(&count); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("scheduling: count used slots: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) HasExistingAppointment(ctx context.Context, patientID string, date time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.has_existing_appointment")
	defer span.End()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM intake_requests
			WHERE patient_id = $1 AND assigned_date = $2::date AND category IN ('consulta', 'ecor')
		)
	`
	var exists bool
	if err := s.db.QueryRow(ctx, query, patientID, DateKey(date)).Scan(&exists); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("scheduling: check existing appointment: %w", err)
	}
	return exists, nil
}

// InsertWithNextTurn relies on the ux_intake_turn unique index to reject a
// second writer that computed the same sequence.
func (s *PostgresStore) InsertWithNextTurn(ctx context.Context, req NewRequest) (StoredRequest, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.insert_with_next_turn", trace.WithAttributes(
		attribute.String("turn.prefix", req.Prefix),
		attribute.String("turn.date", DateKey(req.AssignedDate)),
	))
	defer span.End()

	query := `
		WITH next AS (
			SELECT COUNT(*) + 1 AS seq FROM intake_requests
			WHERE turn_prefix = $1 AND assigned_date = $2::date
		)
		INSERT INTO intake_requests (
			id, category, turn_prefix, turn_seq, turn_number, assigned_date, registration_time,
			patient_first_name, patient_last_name, patient_id, payroll_type, department, subtype, conversation_id
		)
		SELECT $3, $4, $1, next.seq, $1 || '-' || lpad(next.seq::text, GREATEST(3, length(next.seq::text)), '0'),
			$2::date, $5::time, $6, $7, $8, $9, $10, $11, $12
		FROM next
		RETURNING turn_seq, turn_number, created_at
	`
	rec := StoredRequest{
		ID:               req.ID,
		Category:         req.Category,
		AssignedDate:     req.AssignedDate,
		RegistrationTime: req.RegistrationTime,
		Subtype:          req.Subtype,
		Patient:          req.Patient,
		ConversationID:   req.ConversationID,
	}
	err := s.db.QueryRow(ctx, query,
		req.Prefix, DateKey(req.AssignedDate), req.ID.String(), string(req.Category), req.RegistrationTime,
		req.Patient.FirstName, req.Patient.LastName, req.Patient.ID, req.Patient.PayrollType, req.Patient.Department,
		req.Subtype, req.ConversationID,
	).Scan(&rec.TurnSeq, &rec.TurnNumber, &rec.CreatedAt)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return StoredRequest{}, ErrTurnConflict
		}
		return StoredRequest{}, fmt.Errorf("scheduling: insert request: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) InsertEmergency(ctx context.Context, rec StoredRequest) error {
	ctx, span := s.tracer.Start(ctx, "scheduling.insert_emergency")
	defer span.End()

	query := `
		INSERT INTO intake_requests (
			id, category, turn_prefix, turn_seq, turn_number, assigned_date, registration_time, motive, conversation_id
		) VALUES ($1, $2, $3, 0, $4, $5::date, $6::time, $7, $8)
	`
	_, err := s.db.Exec(ctx, query,
		rec.ID.String(), string(CategoryEmergencia), PrefixEmergency, rec.TurnNumber,
		DateKey(rec.AssignedDate), rec.RegistrationTime, rec.Motive, rec.ConversationID,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("scheduling: insert emergency: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
