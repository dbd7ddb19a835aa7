package scheduling

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return newPostgresStoreWithExec(mock), mock
}

func TestPostgresStoreCapacityLimit(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT daily_limit FROM capacity_limits").WithArgs("consulta_miercoles").
		WillReturnRows(pgxmock.NewRows([]string{"daily_limit"}).AddRow(10))
	limit, err := store.CapacityLimit(ctx, "consulta_miercoles")
	require.NoError(t, err)
	assert.Equal(t, 10, limit)

	mock.ExpectQuery("SELECT daily_limit FROM capacity_limits").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = store.CapacityLimit(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown capacity key")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUsedCount(t *testing.T) {
	store, mock := newMockStore(t)
	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM intake_requests").
		WithArgs([]string{"consulta", "ecor"}, "2025-03-05").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	used, err := store.UsedCount(context.Background(), TypeConsulta.CapacityClass(), date)
	require.NoError(t, err)
	assert.Equal(t, 7, used)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreHasExistingAppointment(t *testing.T) {
	store, mock := newMockStore(t)
	date := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("V-12345678", "2025-03-12").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	exists, err := store.HasExistingAppointment(context.Background(), "V-12345678", date)
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("V-1", "2025-03-12").WillReturnError(errors.New("boom"))
	_, err = store.HasExistingAppointment(context.Background(), "V-1", date)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreInsertWithNextTurn(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2025, 3, 5, 13, 0, 0, 0, time.UTC)
	req := NewRequest{
		ID:               uuid.New(),
		Category:         CategoryConsulta,
		Prefix:           PrefixConsulta,
		AssignedDate:     time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		RegistrationTime: "09:00:00",
		Subtype:          "Reposo Médico",
		Patient:          Patient{FirstName: "Juan", LastName: "Pérez", ID: "12345678", PayrollType: "Contractual Mensual", Department: "Operaciones"},
		ConversationID:   "chat-1",
	}

	mock.ExpectQuery(regexp.QuoteMeta("$2::date, $5::time,")).
		WithArgs("C", "2025-03-05", req.ID.String(), "consulta", "09:00:00", "Juan", "Pérez", "12345678",
			"Contractual Mensual", "Operaciones", "Reposo Médico", "chat-1").
		WillReturnRows(pgxmock.NewRows([]string{"turn_seq", "turn_number", "created_at"}).AddRow(3, "C-003", created))
	rec, err := store.InsertWithNextTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.TurnSeq)
	assert.Equal(t, "C-003", rec.TurnNumber)
	assert.Equal(t, created, rec.CreatedAt)
	assert.Equal(t, "Juan", rec.Patient.FirstName)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreInsertConflictMapsToTurnConflict(t *testing.T) {
	store, mock := newMockStore(t)
	req := NewRequest{ID: uuid.New(), Category: CategoryReembolso, Prefix: PrefixReembolso, AssignedDate: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)}

	mock.ExpectQuery("WITH next AS").WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "ux_intake_turn"})
	_, err := store.InsertWithNextTurn(context.Background(), req)
	require.ErrorIs(t, err, ErrTurnConflict)

	mock.ExpectQuery("WITH next AS").WillReturnError(errors.New("connection reset"))
	_, err = store.InsertWithNextTurn(context.Background(), req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTurnConflict)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreInsertEmergency(t *testing.T) {
	store, mock := newMockStore(t)
	rec := StoredRequest{
		ID:               uuid.New(),
		TurnNumber:       "EMERGENCIA-101500",
		AssignedDate:     time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		RegistrationTime: "10:15:00",
		Motive:           "dolor de pecho",
		ConversationID:   "chat-9",
	}

	mock.ExpectExec(regexp.QuoteMeta("$5::date, $6::time,")).
		WithArgs(rec.ID.String(), "emergencia", "E", "EMERGENCIA-101500", "2025-03-05", "10:15:00", "dolor de pecho", "chat-9").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.InsertEmergency(context.Background(), rec))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineRetriesPostgresConflict(t *testing.T) {
	store, mock := newMockStore(t)
	loc := time.UTC
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, loc)
	engine := NewEngine(store, WithLocation(loc), WithClock(func() time.Time { return now }))

	expectFind := func() {
		mock.ExpectQuery("SELECT daily_limit FROM capacity_limits").WithArgs("reembolso").
			WillReturnRows(pgxmock.NewRows([]string{"daily_limit"}).AddRow(15))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM intake_requests").WithArgs([]string{"reembolso"}, "2025-03-03").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))
	}
	expectFind()
	mock.ExpectQuery("WITH next AS").WillReturnError(&pgconn.PgError{Code: "23505"})
	expectFind()
	mock.ExpectQuery("WITH next AS").
		WillReturnRows(pgxmock.NewRows([]string{"turn_seq", "turn_number", "created_at"}).AddRow(6, "R-006", now))

	res, err := engine.Allocate(context.Background(), SlotRequest{Type: TypeReembolso, Patient: Patient{ID: "V-5"}})
	require.NoError(t, err)
	assert.Equal(t, "R-006", res.TurnNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}
