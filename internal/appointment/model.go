package appointment

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/caresync-appointments/internal/schedule"
)

const (
	EventPlanBooked         = "PLAN_BOOKED"
	EventSessionRescheduled = "SESSION_RESCHEDULED"
	EventPlanCancelled      = "PLAN_CANCELLED"
	EventSessionCancelled   = "SESSION_CANCELLED"
)

// Appointment is one scheduled session of a patient's plan. ScheduledAt is the
// instant the slot starts on the session's date.
type Appointment struct {
	ID            uuid.UUID
	PatientID     string
	SessionNumber int
	ScheduledAt   time.Time
	TimeSlot      schedule.TimeSlot
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a Appointment) Date() schedule.Date {
	return schedule.Localize(a.ScheduledAt)
}

func (a Appointment) Pair() schedule.Pair {
	return schedule.Pair{Date: a.Date(), Slot: a.TimeSlot}
}

func (a Appointment) Session() schedule.Session {
	return schedule.Session{Number: a.SessionNumber, Date: a.Date(), Slot: a.TimeSlot}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	PatientID     string
	Payload       []byte
	CreatedAt     time.Time
}

type BookRequest struct {
	PatientID string
	Date      string
	TimeSlot  string
}

type RescheduleRequest struct {
	PatientID     string
	SessionNumber int
	Date          string
	TimeSlot      string
}

// SessionUpdate is one entry of the client's reschedule payload. Empty Date or
// TimeSlot keeps the stored value.
type SessionUpdate struct {
	ID            string
	Date          string
	TimeSlot      string
	SessionNumber int
}

// Availability is a view of the Availability Index over [From, To].
type Availability struct {
	From              schedule.Date
	To                schedule.Date
	SaturatedDates    []schedule.Date
	BlockedStartDates []schedule.Date
	TakenSlots        map[schedule.Date][]schedule.TimeSlot
}

func sortBySession(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		return appts[i].SessionNumber < appts[j].SessionNumber
	})
}

func pairsOf(appts []Appointment) []schedule.Pair {
	pairs := make([]schedule.Pair, len(appts))
	for i, a := range appts {
		pairs[i] = a.Pair()
	}
	return pairs
}
