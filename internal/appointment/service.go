package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/caresync-appointments/internal/metrics"
	redisclient "github.com/hackgods/caresync-appointments/internal/redis"
	"github.com/hackgods/caresync-appointments/internal/schedule"
)

// lookbackDays bounds the appointment scan used to build an Availability Index.
// A saturated date can block anchors up to 28 days later plus a weekday snap,
// so anything older than this cannot affect the date being checked.
const lookbackDays = 2*schedule.FollowUpDays + 7

const maxAvailabilityDays = 366

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	logger  *zap.Logger
	metrics *metrics.Scheduling
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, logger *zap.Logger, m *metrics.Scheduling) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

func (s *Service) today() schedule.Date {
	return schedule.Localize(s.now())
}

// Book creates the full three-session plan for a patient or nothing at all.
// Availability is re-checked and the sessions written inside one transaction,
// so of two racing bookings for an overlapping pair only one commits.
func (s *Service) Book(ctx context.Context, req BookRequest) ([]Appointment, error) {
	plan, err := s.book(ctx, req)
	s.metrics.ObserveBooking(Outcome(err))
	return plan, err
}

func (s *Service) book(ctx context.Context, req BookRequest) ([]Appointment, error) {
	slot, err := schedule.ParseTimeSlot(req.TimeSlot)
	if err != nil {
		return nil, ErrInvalidTimeSlot
	}

	anchor, err := s.validateDate(req.Date)
	if err != nil {
		return nil, err
	}

	sessions := schedule.GeneratePlan(anchor, slot)

	var created []Appointment
	err = s.withPatientLock(ctx, req.PatientID, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			existing, err := tx.ListByPatient(ctx, req.PatientID)
			if err != nil {
				return fmt.Errorf("load patient plan: %w", err)
			}
			if len(existing) > 0 {
				return ErrActivePlanExists
			}

			ix, err := s.loadIndex(ctx, tx, "", anchor, sessions[len(sessions)-1].Date)
			if err != nil {
				return err
			}
			if ix.IsBlockedStart(anchor) {
				return withDetail(ErrDateUnavailable, "all slots are booked on or around %s, choose another start date", anchor)
			}
			for _, sess := range sessions {
				if ix.SlotTaken(sess.Date, sess.Slot) {
					return withDetail(ErrSlotTaken, "selected time slot is already booked: %s at %s", sess.Date, sess.Slot)
				}
			}

			created = created[:0]
			for _, sess := range sessions {
				a, err := tx.Create(ctx, Appointment{
					PatientID:     req.PatientID,
					SessionNumber: sess.Number,
					ScheduledAt:   sess.Slot.At(sess.Date),
					TimeSlot:      sess.Slot,
				})
				if err != nil {
					return fmt.Errorf("create session %d: %w", sess.Number, err)
				}
				created = append(created, *a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan booked",
		zap.String("patient_id", req.PatientID),
		zap.String("anchor", anchor.String()),
		zap.String("time_slot", slot.String()))
	s.logEvent(ctx, req.PatientID, nil, EventPlanBooked, map[string]any{
		"anchor":    anchor.String(),
		"time_slot": slot,
	})

	return created, nil
}

// Reschedule moves session req.SessionNumber and cascades the change to its
// later sessions. HTTP callers go through RescheduleUpdates, which resolves the
// session number from the client payload first.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) ([]Appointment, error) {
	plan, err := s.reschedule(ctx, req)
	s.metrics.ObserveReschedule(req.SessionNumber, Outcome(err))
	return plan, err
}

func (s *Service) reschedule(ctx context.Context, req RescheduleRequest) ([]Appointment, error) {
	if req.SessionNumber < 1 || req.SessionNumber > schedule.SessionsPerPlan {
		return nil, ErrInvalidSessionNumber
	}
	slot, err := schedule.ParseTimeSlot(req.TimeSlot)
	if err != nil {
		return nil, ErrInvalidTimeSlot
	}
	date, err := s.validateDate(req.Date)
	if err != nil {
		return nil, err
	}

	var updated []Appointment
	err = s.withPatientLock(ctx, req.PatientID, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			plan, err := tx.ListByPatient(ctx, req.PatientID)
			if err != nil {
				return fmt.Errorf("load patient plan: %w", err)
			}
			if len(plan) == 0 {
				return ErrNoAppointments
			}
			updated, err = s.cascadeInTx(ctx, tx, req.PatientID, plan, req.SessionNumber, date, slot)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterReschedule(ctx, req.PatientID, req.SessionNumber, date, slot)
	return updated, nil
}

// RescheduleUpdates applies a client payload listing sessions with their desired
// dates. The lowest-numbered session whose date or slot changes is the target;
// dates the client computed for its later sessions are ignored and recomputed.
func (s *Service) RescheduleUpdates(ctx context.Context, patientID string, updates []SessionUpdate) ([]Appointment, error) {
	target := 0
	plan, err := s.rescheduleUpdates(ctx, patientID, updates, &target)
	s.metrics.ObserveReschedule(target, Outcome(err))
	return plan, err
}

func (s *Service) rescheduleUpdates(ctx context.Context, patientID string, updates []SessionUpdate, target *int) ([]Appointment, error) {
	if len(updates) == 0 {
		return nil, ErrNoUpdates
	}

	ids := make([]uuid.UUID, len(updates))
	for i, u := range updates {
		raw := strings.TrimSpace(u.ID)
		if raw == "" {
			return nil, ErrMissingAppointmentID
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, withDetail(ErrInvalidAppointmentID, "appointment id %q is not a valid UUID", raw)
		}
		ids[i] = id
	}

	var (
		result  []Appointment
		moved   bool
		newDate schedule.Date
		newSlot schedule.TimeSlot
	)
	err := s.withPatientLock(ctx, patientID, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			stored := make(map[uuid.UUID]*Appointment, len(ids))
			for _, id := range ids {
				a, err := tx.GetByID(ctx, id)
				if errors.Is(err, ErrAppointmentNotFound) {
					return withDetail(ErrAppointmentNotFound, "appointment %s not found", id)
				}
				if err != nil {
					return fmt.Errorf("load appointment %s: %w", id, err)
				}
				if a.PatientID != patientID {
					return ErrNotOwner
				}
				stored[id] = a
			}

			number, date, slot, err := resolveTarget(updates, ids, stored)
			if err != nil {
				return err
			}

			plan, err := tx.ListByPatient(ctx, patientID)
			if err != nil {
				return fmt.Errorf("load patient plan: %w", err)
			}
			if number == 0 {
				result = plan
				return nil
			}

			*target = number
			if err := s.checkDate(date); err != nil {
				return err
			}

			result, err = s.cascadeInTx(ctx, tx, patientID, plan, number, date, slot)
			if err != nil {
				return err
			}
			moved, newDate, newSlot = true, date, slot
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if moved {
		s.afterReschedule(ctx, patientID, *target, newDate, newSlot)
	}
	return result, nil
}

// resolveTarget picks the first changed session in session order. A zero
// number means nothing changes.
func resolveTarget(updates []SessionUpdate, ids []uuid.UUID, stored map[uuid.UUID]*Appointment) (int, schedule.Date, schedule.TimeSlot, error) {
	var (
		number int
		date   schedule.Date
		slot   schedule.TimeSlot
	)

	for i, u := range updates {
		current := stored[ids[i]]

		d := current.Date()
		if strings.TrimSpace(u.Date) != "" {
			parsed, err := schedule.ParseDate(u.Date)
			if err != nil {
				return 0, date, slot, ErrInvalidDate
			}
			d = parsed
		}

		sl := current.TimeSlot
		if strings.TrimSpace(u.TimeSlot) != "" {
			parsed, err := schedule.ParseTimeSlot(u.TimeSlot)
			if err != nil {
				return 0, date, slot, ErrInvalidTimeSlot
			}
			sl = parsed
		}

		if d == current.Date() && sl == current.TimeSlot {
			continue
		}
		if number == 0 || current.SessionNumber < number {
			number, date, slot = current.SessionNumber, d, sl
		}
	}

	return number, date, slot, nil
}

// cascadeInTx recomputes the plan from the moved session and re-checks every
// resulting pair against other patients' bookings read in the same transaction.
func (s *Service) cascadeInTx(ctx context.Context, tx Store, patientID string, plan []Appointment, number int, date schedule.Date, slot schedule.TimeSlot) ([]Appointment, error) {
	sortBySession(plan)
	if len(plan) != schedule.SessionsPerPlan {
		return nil, ErrPlanIncomplete
	}

	current := make([]schedule.Session, len(plan))
	for i, a := range plan {
		current[i] = a.Session()
	}

	next, err := schedule.Cascade(current, number, date, slot)
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidSessionNumber) {
			return nil, ErrInvalidSessionNumber
		}
		return nil, ErrPlanIncomplete
	}

	first := date
	if next[0].Date.Before(first) {
		first = next[0].Date
	}
	ix, err := s.loadIndex(ctx, tx, patientID, first, next[len(next)-1].Date)
	if err != nil {
		return nil, err
	}
	if ix.IsBlockedStart(date) {
		return nil, withDetail(ErrDateUnavailable, "all slots are booked on or around %s, choose another date", date)
	}

	seen := make(map[schedule.Pair]int, len(next))
	for _, sess := range next {
		if ix.SlotTaken(sess.Date, sess.Slot) {
			return nil, withDetail(ErrSlotTaken, "conflict: %s at %s is taken", sess.Date, sess.Slot)
		}
		if other, dup := seen[sess.Pair()]; dup {
			return nil, withDetail(ErrSlotTaken, "conflict: session %d would share %s with session %d", sess.Number, sess.Pair(), other)
		}
		seen[sess.Pair()] = sess.Number
	}

	updated := make([]Appointment, len(plan))
	for i, sess := range next {
		if plan[i].Pair() == sess.Pair() {
			updated[i] = plan[i]
			continue
		}
		a, err := tx.Reschedule(ctx, plan[i].ID, sess.Slot.At(sess.Date), sess.Slot)
		if err != nil {
			return nil, fmt.Errorf("update session %d: %w", sess.Number, err)
		}
		updated[i] = *a
	}

	return updated, nil
}

func (s *Service) afterReschedule(ctx context.Context, patientID string, number int, date schedule.Date, slot schedule.TimeSlot) {
	s.logger.Info("session rescheduled",
		zap.String("patient_id", patientID),
		zap.Int("session_number", number),
		zap.String("date", date.String()),
		zap.String("time_slot", slot.String()))
	s.logEvent(ctx, patientID, nil, EventSessionRescheduled, map[string]any{
		"session_number": number,
		"date":           date.String(),
		"time_slot":      slot,
	})
}

// ListMine returns the patient's sessions ordered by session number.
func (s *Service) ListMine(ctx context.Context, patientID string) ([]Appointment, error) {
	appts, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	sortBySession(appts)
	return appts, nil
}

// CancelAll removes every session of the patient's plan.
func (s *Service) CancelAll(ctx context.Context, patientID string) (int64, error) {
	var removed int64
	err := s.withPatientLock(ctx, patientID, func(ctx context.Context) error {
		n, err := s.repo.DeleteByPatient(ctx, patientID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoAppointments
		}
		removed = n
		return nil
	})
	s.metrics.ObserveCancel("plan", Outcome(err))
	if err != nil {
		return 0, err
	}

	s.logger.Info("plan cancelled", zap.String("patient_id", patientID), zap.Int64("sessions", removed))
	s.logEvent(ctx, patientID, nil, EventPlanCancelled, map[string]any{"sessions": removed})
	return removed, nil
}

// CancelOne removes a single session. Remaining sessions are left as they are.
func (s *Service) CancelOne(ctx context.Context, patientID, rawID string) error {
	err := s.cancelOne(ctx, patientID, rawID)
	s.metrics.ObserveCancel("session", Outcome(err))
	return err
}

func (s *Service) cancelOne(ctx context.Context, patientID, rawID string) error {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return ErrInvalidAppointmentID
	}

	var number int
	err = s.withPatientLock(ctx, patientID, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			a, err := tx.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if a.PatientID != patientID {
				return ErrNotOwner
			}
			number = a.SessionNumber
			return tx.DeleteByID(ctx, id)
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("session cancelled",
		zap.String("patient_id", patientID),
		zap.String("appointment_id", id.String()),
		zap.Int("session_number", number))
	s.logEvent(ctx, patientID, &id, EventSessionCancelled, map[string]any{"session_number": number})
	return nil
}

// Availability reports saturated dates, blocked plan anchors and taken slots
// between from and to inclusive. With excludePatientID set, that patient's own
// sessions are left out, which is the view used while rescheduling.
func (s *Service) Availability(ctx context.Context, from, to schedule.Date, excludePatientID string) (*Availability, error) {
	if to.Before(from) || from.DaysUntil(to) > maxAvailabilityDays {
		return nil, ErrInvalidRange
	}

	appts, err := s.repo.ListSince(ctx, from.AddDays(-lookbackDays).Time())
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	ix := schedule.NewIndex(pairsOf(excludePatient(appts, excludePatientID)))

	inRange := func(d schedule.Date) bool { return !d.Before(from) && !d.After(to) }

	out := &Availability{
		From:              from,
		To:                to,
		SaturatedDates:    []schedule.Date{},
		BlockedStartDates: []schedule.Date{},
		TakenSlots:        make(map[schedule.Date][]schedule.TimeSlot),
	}
	for _, d := range ix.SaturatedDates() {
		if inRange(d) {
			out.SaturatedDates = append(out.SaturatedDates, d)
		}
	}
	for _, d := range ix.BlockedStartDates() {
		if inRange(d) {
			out.BlockedStartDates = append(out.BlockedStartDates, d)
		}
	}
	for _, d := range ix.BookedDates() {
		if inRange(d) {
			out.TakenSlots[d] = ix.TakenSlots(d)
		}
	}
	return out, nil
}

// PreviewPlan returns the sessions a booking on date would create.
func (s *Service) PreviewPlan(rawDate, rawSlot string) ([]schedule.Session, error) {
	slot, err := schedule.ParseTimeSlot(rawSlot)
	if err != nil {
		return nil, ErrInvalidTimeSlot
	}
	anchor, err := s.validateDate(rawDate)
	if err != nil {
		return nil, err
	}
	return schedule.GeneratePlan(anchor, slot), nil
}

// Today is the current date in the clinic's calendar.
func (s *Service) Today() schedule.Date {
	return s.today()
}

func (s *Service) validateDate(raw string) (schedule.Date, error) {
	d, err := schedule.ParseDate(raw)
	if err != nil {
		return schedule.Date{}, ErrInvalidDate
	}
	if err := s.checkDate(d); err != nil {
		return schedule.Date{}, err
	}
	return d, nil
}

func (s *Service) checkDate(d schedule.Date) error {
	if !schedule.IsEligibleWeekday(d) {
		return ErrIneligibleDate
	}
	if d.Before(s.today()) {
		return ErrPastDate
	}
	return nil
}

// loadIndex builds an Availability Index from the current transaction's view,
// reading only first-lookbackDays through last so serializable reads stay
// narrow.
func (s *Service) loadIndex(ctx context.Context, tx Store, excludePatientID string, first, last schedule.Date) (*schedule.Index, error) {
	from := first.AddDays(-lookbackDays).Time()
	to := last.AddDays(1).Time()
	appts, err := tx.ListBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	return schedule.NewIndex(pairsOf(excludePatient(appts, excludePatientID))), nil
}

func excludePatient(appts []Appointment, patientID string) []Appointment {
	if patientID == "" {
		return appts
	}
	out := appts[:0:0]
	for _, a := range appts {
		if a.PatientID != patientID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Service) withPatientLock(ctx context.Context, patientID string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithLock(ctx, redisclient.PatientKey(patientID), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrOperationInProgress
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, patientID string, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		PatientID:     patientID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("patient_id", patientID),
			zap.Error(err))
	}
}
