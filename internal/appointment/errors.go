package appointment

import (
	"errors"
	"fmt"

	"github.com/hackgods/caresync-appointments/internal/schedule"
)

// Error categories. Every error returned by Service that is not Internal wraps
// exactly one of these.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

var (
	ErrInvalidTimeSlot      = newError(ErrInvalidInput, "time slot must be one of "+schedule.SlotNames())
	ErrInvalidDate          = newError(ErrInvalidInput, "date is missing or not a valid calendar date")
	ErrIneligibleDate       = newError(ErrInvalidInput, "selected date must be Tue, Wed, or Fri")
	ErrPastDate             = newError(ErrInvalidInput, "selected date is in the past")
	ErrInvalidRange         = newError(ErrInvalidInput, "date range is invalid")
	ErrInvalidSessionNumber = newError(ErrInvalidInput, "session number must be between 1 and 3")
	ErrInvalidAppointmentID = newError(ErrInvalidInput, "appointment id must be a valid UUID")
	ErrMissingAppointmentID = newError(ErrInvalidInput, "missing appointment id in updates")
	ErrNoUpdates            = newError(ErrInvalidInput, "invalid updates format")

	ErrActivePlanExists    = newError(ErrConflict, "you already have an active plan, cancel it before booking again")
	ErrSlotTaken           = newError(ErrConflict, "selected time slot is already booked")
	ErrDateUnavailable     = newError(ErrConflict, "all slots are booked for this date")
	ErrPlanIncomplete      = newError(ErrConflict, "plan is incomplete, cancel it and book a new one")
	ErrOperationInProgress = newError(ErrConflict, "another change to your plan is in progress, please retry")
	ErrConcurrentUpdate    = newError(ErrConflict, "appointments changed while saving, please retry")

	ErrNotOwner = newError(ErrForbidden, "unauthorized to modify this appointment")

	ErrAppointmentNotFound = newError(ErrNotFound, "appointment not found")
	ErrNoAppointments      = newError(ErrNotFound, "no appointments found")
)

// scheduleError carries a user-facing reason and unwraps to its category or
// to a more general sentinel.
type scheduleError struct {
	parent error
	msg    string
}

func (e *scheduleError) Error() string { return e.msg }

func (e *scheduleError) Unwrap() error { return e.parent }

func newError(parent error, msg string) error {
	return &scheduleError{parent: parent, msg: msg}
}

// withDetail replaces the reason of a sentinel while keeping errors.Is working.
func withDetail(base error, format string, args ...any) error {
	return &scheduleError{parent: base, msg: fmt.Sprintf(format, args...)}
}

// Outcome maps an error to a short label for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
