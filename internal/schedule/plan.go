package schedule

import (
	"errors"
	"fmt"
)

const (
	SessionsPerPlan = 3

	// FollowUpDays is the minimum spacing between consecutive sessions.
	FollowUpDays = 14
)

var (
	ErrInvalidSessionNumber = errors.New("invalid session number")
	ErrIncompletePlan       = errors.New("plan does not have all sessions")
)

// Pair identifies one bookable unit of capacity.
type Pair struct {
	Date Date
	Slot TimeSlot
}

func (p Pair) String() string {
	return fmt.Sprintf("%s %s", p.Date, p.Slot)
}

// Session is a planned visit inside a treatment plan.
type Session struct {
	Number int
	Date   Date
	Slot   TimeSlot
}

func (s Session) Pair() Pair {
	return Pair{Date: s.Date, Slot: s.Slot}
}

// FollowUpDate is the date of the session that follows one held on d.
func FollowUpDate(d Date) Date {
	return NextEligibleDate(d.AddDays(FollowUpDays))
}

// GeneratePlan builds the sessions for a plan anchored on anchor. The anchor must
// already be localized and eligible. Each follow-up snaps from the previous snapped
// date, so session 3 is not always exactly 28 days after the anchor.
func GeneratePlan(anchor Date, slot TimeSlot) []Session {
	sessions := make([]Session, 0, SessionsPerPlan)
	date := anchor
	for n := 1; n <= SessionsPerPlan; n++ {
		if n > 1 {
			date = FollowUpDate(date)
		}
		sessions = append(sessions, Session{Number: n, Date: date, Slot: slot})
	}
	return sessions
}

// Cascade moves session number to (date, slot) and recomputes every later session
// from the new date. Earlier sessions are returned unchanged. current must hold
// sessions 1..SessionsPerPlan in order.
func Cascade(current []Session, number int, date Date, slot TimeSlot) ([]Session, error) {
	if number < 1 || number > SessionsPerPlan {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSessionNumber, number)
	}
	if len(current) != SessionsPerPlan {
		return nil, fmt.Errorf("%w: have %d of %d", ErrIncompletePlan, len(current), SessionsPerPlan)
	}

	next := make([]Session, SessionsPerPlan)
	for i, s := range current {
		if s.Number != i+1 {
			return nil, fmt.Errorf("%w: session %d out of order", ErrIncompletePlan, s.Number)
		}
		next[i] = s
	}

	next[number-1].Date = date
	next[number-1].Slot = slot
	for i := number; i < SessionsPerPlan; i++ {
		next[i].Date = FollowUpDate(next[i-1].Date)
		next[i].Slot = slot
	}

	return next, nil
}
