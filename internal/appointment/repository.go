package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/caresync-appointments/internal/schedule"
)

// Store holds the appointment reads and writes the service needs. The same
// methods run either directly or inside a transaction.
type Store interface {
	// ListSince returns every appointment, of any patient, starting at or after since.
	ListSince(ctx context.Context, since time.Time) ([]Appointment, error)
	// ListBetween returns every appointment starting in [from, to).
	ListBetween(ctx context.Context, from, to time.Time) ([]Appointment, error)
	// ListByPatient returns the patient's sessions ordered by session number.
	ListByPatient(ctx context.Context, patientID string) ([]Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Create assigns a new id and persists a.
	Create(ctx context.Context, a Appointment) (*Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time, slot schedule.TimeSlot) (*Appointment, error)
	DeleteByPatient(ctx context.Context, patientID string) (int64, error)
	DeleteByID(ctx context.Context, id uuid.UUID) error

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository adds transactional execution. fn runs against a Store bound to a
// single serializable transaction that commits only if fn returns nil.
type Repository interface {
	Store
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
