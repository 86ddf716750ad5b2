package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/caresync-appointments/internal/schedule"
)

var appointmentCols = []string{"id", "patient_id", "session_number", "scheduled_at", "time_slot", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPgRepository(mock), mock
}

func serializable() pgx.TxOptions {
	return pgx.TxOptions{IsoLevel: pgx.Serializable}
}

func TestPgListByPatient(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	at := schedule.Slot1000.At(nov3)
	now := time.Now()

	mock.ExpectQuery("WHERE patient_id = \\$1").
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(id, "p1", 1, at, "10:00-11:00", now, now))

	appts, err := repo.ListByPatient(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, id, appts[0].ID)
	assert.Equal(t, schedule.Slot1000, appts[0].TimeSlot)
	assert.Equal(t, nov3, appts[0].Date())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListBetweenBoundsRange(t *testing.T) {
	repo, mock := newMockRepo(t)
	from, to := nov3.Time(), nov4.Time()
	now := time.Now()

	mock.ExpectQuery("WHERE scheduled_at >= \\$1 AND scheduled_at < \\$2").
		WithArgs(from, to).
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(uuid.New(), "p1", 1, schedule.Slot0900.At(nov3), "09:00-10:00", now, now))

	appts, err := repo.ListBetween(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, nov3, appts[0].Date())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetByIDMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("WHERE id = \\$1").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	require.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeleteByPatientCountsRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("DELETE FROM appointments WHERE patient_id").
		WithArgs("p1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := repo.DeleteByPatient(context.Background(), "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeleteByIDMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM appointments WHERE id").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.DeleteByID(context.Background(), id)
	require.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWithinTxCommits(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := schedule.Slot0900.At(nov3)
	now := time.Now()

	mock.ExpectBeginTx(serializable())
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "p1", 1, at, "09:00-10:00").
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(uuid.New(), "p1", 1, at, "09:00-10:00", now, now))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Store) error {
		created, err := tx.Create(ctx, Appointment{PatientID: "p1", SessionNumber: 1, ScheduledAt: at, TimeSlot: schedule.Slot0900})
		if err != nil {
			return err
		}
		assert.Equal(t, "p1", created.PatientID)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWithinTxRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBeginTx(serializable())
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Store) error {
		return ErrActivePlanExists
	})
	require.ErrorIs(t, err, ErrActivePlanExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWithinTxMapsUniqueViolationOnCommit(t *testing.T) {
	tests := []struct {
		constraint string
		want       error
	}{
		{constraintSlotUnique, ErrSlotTaken},
		{constraintPatientSessionUnique, ErrActivePlanExists},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			repo, mock := newMockRepo(t)

			mock.ExpectBeginTx(serializable())
			mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: tt.constraint})

			err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Store) error {
				return nil
			})
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrConflict)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPgWithinTxRetriesSerializationFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBeginTx(serializable())
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: pgSerializationFailure})
	mock.ExpectBeginTx(serializable())
	mock.ExpectCommit()

	calls := 0
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Store) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWithinTxGivesUpAfterRetries(t *testing.T) {
	repo, mock := newMockRepo(t)

	for i := 0; i <= txMaxRetries; i++ {
		mock.ExpectBeginTx(serializable())
		mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: pgSerializationFailure})
	}

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Store) error {
		return nil
	})
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWithinTxKeepsUnexpectedErrors(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")

	mock.ExpectBeginTx(serializable()).WillReturnError(boom)

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Store) error {
		t.Fatal("fn must not run without a transaction")
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "error", Outcome(err))
}
