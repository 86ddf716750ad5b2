package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/hackgods/caresync-appointments/internal/schedule"
)

const (
	txMaxRetries = 3
	txRetryBase  = 25 * time.Millisecond

	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	constraintSlotUnique           = "appointments_slot_unique"
	constraintPatientSessionUnique = "appointments_patient_session_unique"
)

const appointmentColumns = `id, patient_id, session_number, scheduled_at, time_slot, created_at, updated_at`

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStarter interface {
	querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type PgRepository struct {
	pgStore
	pool txStarter
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return newPgRepository(pool)
}

func newPgRepository(pool txStarter) *PgRepository {
	return &PgRepository{pgStore: pgStore{q: pool}, pool: pool}
}

// WithinTx runs fn in a SERIALIZABLE transaction. Serialization failures are
// retried with backoff; if they persist the caller gets ErrConcurrentUpdate.
func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	backoff := retry.WithMaxRetries(txMaxRetries, retry.NewExponential(txRetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.runTx(ctx, fn)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if isRetryable(err) {
		return ErrConcurrentUpdate
	}
	return err
}

func (r *PgRepository) runTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ctx, pgStore{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// mapPgError turns deferred unique violations into domain conflicts.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintPatientSessionUnique:
		return ErrActivePlanExists
	default:
		return ErrSlotTaken
	}
}

// pgStore implements Store over either the pool or a transaction.
type pgStore struct {
	q querier
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slot string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.SessionNumber,
		&a.ScheduledAt,
		&slot,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.TimeSlot = schedule.TimeSlot(slot)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s pgStore) ListSince(ctx context.Context, since time.Time) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE scheduled_at >= $1
		ORDER BY scheduled_at, time_slot
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (s pgStore) ListBetween(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE scheduled_at >= $1 AND scheduled_at < $2
		ORDER BY scheduled_at, time_slot
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments in range: %w", err)
	}
	return collectAppointments(rows)
}

func (s pgStore) ListByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY session_number
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (s pgStore) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s pgStore) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	id := uuid.New()

	row := s.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, session_number, scheduled_at, time_slot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.SessionNumber, a.ScheduledAt, string(a.TimeSlot))

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (s pgStore) Reschedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time, slot schedule.TimeSlot) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_at = $2,
		    time_slot = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, scheduledAt, string(slot))

	return scanAppointment(row)
}

func (s pgStore) DeleteByPatient(ctx context.Context, patientID string) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM appointments WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete patient appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s pgStore) DeleteByID(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s pgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, patient_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.PatientID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
