package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Location is the clinic's reference calendar. All weekday decisions are made here,
// never in the caller's local zone.
var Location = time.FixedZone("IST", 5*60*60+30*60)

const DateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

// Date is a civil calendar date in Location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate normalizes out-of-range values the same way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return Localize(time.Date(year, month, day, 0, 0, 0, 0, Location))
}

// Localize maps an instant onto the reference calendar.
func Localize(t time.Time) Date {
	lt := t.In(Location)
	return Date{Year: lt.Year(), Month: lt.Month(), Day: lt.Day()}
}

// ParseDate accepts a bare date, an RFC 3339 instant or a zone-less timestamp.
// Instants are localized; zone-less values are read as Location wall time.
func ParseDate(raw string) (Date, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Date{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Localize(t), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, Location); err == nil {
		return Localize(t), nil
	}
	if t, err := time.ParseInLocation(DateLayout, s, Location); err == nil {
		return Localize(t), nil
	}

	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// Time returns midnight of d in Location.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, Location)
}

func (d Date) AddDays(n int) Date {
	return NewDate(d.Year, d.Month, d.Day+n)
}

// DaysUntil returns the number of calendar days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.Time().Sub(d.Time()).Hours() / 24)
}

func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

func (d Date) Compare(o Date) int {
	return d.Time().Compare(o.Time())
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return d.Time().Format(DateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsEligibleWeekday reports whether sessions may be held on d (Tue, Wed, Fri).
func IsEligibleWeekday(d Date) bool {
	switch d.Weekday() {
	case time.Tuesday, time.Wednesday, time.Friday:
		return true
	default:
		return false
	}
}

// NextEligibleDate returns d if it is eligible, otherwise the first eligible date after it.
func NextEligibleDate(d Date) Date {
	for !IsEligibleWeekday(d) {
		d = d.AddDays(1)
	}
	return d
}
