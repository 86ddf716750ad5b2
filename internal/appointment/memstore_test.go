package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/caresync-appointments/internal/schedule"
)

// memRepo is an in-memory Repository. Transactions run one at a time against
// a copy of the rows that replaces the original only when fn succeeds.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	rows   map[uuid.UUID]Appointment
	events []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[uuid.UUID]Appointment)}
}

func (r *memRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := make(map[uuid.UUID]Appointment, len(r.rows))
	for id, a := range r.rows {
		snapshot[id] = a
	}
	events := append([]EventLog(nil), r.events...)
	r.mu.Unlock()

	tx := &memStore{rows: snapshot, events: &events}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	r.rows = snapshot
	r.events = events
	r.mu.Unlock()
	return nil
}

func (r *memRepo) store() *memStore {
	return &memStore{rows: r.rows, events: &r.events}
}

func (r *memRepo) ListSince(ctx context.Context, since time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().ListSince(ctx, since)
}

func (r *memRepo) ListBetween(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().ListBetween(ctx, from, to)
}

func (r *memRepo) ListByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().ListByPatient(ctx, patientID)
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetByID(ctx, id)
}

func (r *memRepo) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().Create(ctx, a)
}

func (r *memRepo) Reschedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time, slot schedule.TimeSlot) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().Reschedule(ctx, id, scheduledAt, slot)
}

func (r *memRepo) DeleteByPatient(ctx context.Context, patientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().DeleteByPatient(ctx, patientID)
}

func (r *memRepo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().DeleteByID(ctx, id)
}

func (r *memRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().InsertEvent(ctx, ev)
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType
	}
	return out
}

// seed inserts a session directly, bypassing the service.
func (r *memRepo) seed(patientID string, number int, d schedule.Date, slot schedule.TimeSlot) Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := Appointment{
		ID:            uuid.New(),
		PatientID:     patientID,
		SessionNumber: number,
		ScheduledAt:   slot.At(d),
		TimeSlot:      slot,
	}
	r.rows[a.ID] = a
	return a
}

type memStore struct {
	rows   map[uuid.UUID]Appointment
	events *[]EventLog
}

func (s *memStore) ListSince(_ context.Context, since time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range s.rows {
		if !a.ScheduledAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ListBetween(_ context.Context, from, to time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range s.rows {
		if !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ListByPatient(_ context.Context, patientID string) ([]Appointment, error) {
	var out []Appointment
	for _, a := range s.rows {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sortBySession(out)
	return out, nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := s.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

// Create enforces the same uniqueness the database does.
func (s *memStore) Create(_ context.Context, a Appointment) (*Appointment, error) {
	for _, other := range s.rows {
		if other.PatientID == a.PatientID && other.SessionNumber == a.SessionNumber {
			return nil, ErrActivePlanExists
		}
		if other.ScheduledAt.Equal(a.ScheduledAt) && other.TimeSlot == a.TimeSlot {
			return nil, ErrSlotTaken
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	s.rows[a.ID] = a
	return &a, nil
}

func (s *memStore) Reschedule(_ context.Context, id uuid.UUID, scheduledAt time.Time, slot schedule.TimeSlot) (*Appointment, error) {
	a, ok := s.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.ScheduledAt = scheduledAt
	a.TimeSlot = slot
	a.UpdatedAt = time.Now()
	s.rows[id] = a
	return &a, nil
}

func (s *memStore) DeleteByPatient(_ context.Context, patientID string) (int64, error) {
	var n int64
	for id, a := range s.rows {
		if a.PatientID == patientID {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteByID(_ context.Context, id uuid.UUID) error {
	if _, ok := s.rows[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *memStore) InsertEvent(_ context.Context, ev EventLog) error {
	*s.events = append(*s.events, ev)
	return nil
}
