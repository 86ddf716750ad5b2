package schedule

import "sort"

// Index answers availability questions over a snapshot of booked pairs.
// Build a fresh one per operation; it is not safe to reuse after the
// underlying appointments change.
type Index struct {
	taken   map[Date]map[TimeSlot]struct{}
	blocked map[Date]struct{}
}

// NewIndex indexes pairs. Pairs with an unknown slot are ignored.
func NewIndex(pairs []Pair) *Index {
	ix := &Index{
		taken:   make(map[Date]map[TimeSlot]struct{}),
		blocked: make(map[Date]struct{}),
	}

	for _, p := range pairs {
		if !p.Slot.Valid() {
			continue
		}
		slots, ok := ix.taken[p.Date]
		if !ok {
			slots = make(map[TimeSlot]struct{}, len(Slots))
			ix.taken[p.Date] = slots
		}
		slots[p.Slot] = struct{}{}
	}

	// A saturated date also blocks its 14 and 28 day echoes as plan anchors.
	for d := range ix.taken {
		if !ix.DateSaturated(d) {
			continue
		}
		ix.blocked[d] = struct{}{}
		ix.blocked[NextEligibleDate(d.AddDays(FollowUpDays))] = struct{}{}
		ix.blocked[NextEligibleDate(d.AddDays(2*FollowUpDays))] = struct{}{}
	}

	return ix
}

func (ix *Index) SlotTaken(d Date, s TimeSlot) bool {
	_, ok := ix.taken[d][s]
	return ok
}

// DateSaturated reports whether every slot on d is occupied.
func (ix *Index) DateSaturated(d Date) bool {
	return len(ix.taken[d]) == len(Slots)
}

// IsBlockedStart reports whether a new plan may not be anchored on d.
func (ix *Index) IsBlockedStart(d Date) bool {
	_, ok := ix.blocked[d]
	return ok
}

// BlockedStartDates returns every date rejected as a plan anchor, ascending.
func (ix *Index) BlockedStartDates() []Date {
	out := make([]Date, 0, len(ix.blocked))
	for d := range ix.blocked {
		out = append(out, d)
	}
	sortDates(out)
	return out
}

// SaturatedDates returns every date with no free slot, ascending.
func (ix *Index) SaturatedDates() []Date {
	var out []Date
	for d := range ix.taken {
		if ix.DateSaturated(d) {
			out = append(out, d)
		}
	}
	sortDates(out)
	return out
}

// BookedDates returns every date with at least one taken slot, ascending.
func (ix *Index) BookedDates() []Date {
	out := make([]Date, 0, len(ix.taken))
	for d := range ix.taken {
		out = append(out, d)
	}
	sortDates(out)
	return out
}

// TakenSlots lists the occupied slots on d in day order.
func (ix *Index) TakenSlots(d Date) []TimeSlot {
	var out []TimeSlot
	for _, s := range Slots {
		if ix.SlotTaken(d, s) {
			out = append(out, s)
		}
	}
	return out
}

func sortDates(dates []Date) {
	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})
}
