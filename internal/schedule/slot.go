package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownTimeSlot = errors.New("unknown time slot")

// TimeSlot is one of the fixed one-hour windows offered on an eligible day.
type TimeSlot string

const (
	Slot0900 TimeSlot = "09:00-10:00"
	Slot1000 TimeSlot = "10:00-11:00"
	Slot1100 TimeSlot = "11:00-12:00"
)

// Slots lists every bookable slot in day order.
var Slots = []TimeSlot{Slot0900, Slot1000, Slot1100}

var slotStartHour = map[TimeSlot]int{
	Slot0900: 9,
	Slot1000: 10,
	Slot1100: 11,
}

// ParseTimeSlot accepts the canonical form and the en dash variant older clients send.
func ParseTimeSlot(raw string) (TimeSlot, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "–", "-")
	s = strings.ReplaceAll(s, " ", "")

	slot := TimeSlot(s)
	if !slot.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeSlot, raw)
	}
	return slot, nil
}

func (s TimeSlot) Valid() bool {
	_, ok := slotStartHour[s]
	return ok
}

// At returns the instant the slot starts on d.
func (s TimeSlot) At(d Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, slotStartHour[s], 0, 0, 0, Location)
}

func (s TimeSlot) String() string {
	return string(s)
}

// SlotNames renders the slot list for user-facing messages.
func SlotNames() string {
	names := make([]string, len(Slots))
	for i, s := range Slots {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
