// Package availability derives bookable session starts by subtracting active
// ledger entries from the slot catalog. Nothing here is persisted: the ledger
// is the single source of truth and the free set is recomputed per query.
package availability

import (
	"sort"
	"time"

	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/catalog"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/timeslot"
)

// DaySlots lists the free session-start instants for one calendar date.
type DaySlots struct {
	Date   string
	Starts []time.Time
}

// FreeSlots expands each slot template into session starts (stepping by the
// session length), drops starts whose session would overlap an active
// booking or that already began, and groups the survivors by calendar date.
//
// Active bookings are canonical UTC start instants; each occupies
// [start, start+session). A booking placed mid-slot therefore hides every
// slot start its session overlaps, not just its own instant.
func FreeSlots(templates []catalog.SlotTemplate, active []time.Time, loc *time.Location, session time.Duration, now time.Time) []DaySlots {
	if session <= 0 {
		return nil
	}

	byDate := map[string][]time.Time{}
	sessionMins := int(session / time.Minute)
	for _, tpl := range templates {
		for m := tpl.StartMinute; m+sessionMins <= tpl.EndMinute; m += sessionMins {
			start, err := timeslot.InstantOnDate(tpl.Date, m, loc)
			if err != nil {
				continue
			}
			if !start.After(now) {
				continue
			}
			if overlapsAny(start, session, active) {
				continue
			}
			byDate[tpl.Date] = append(byDate[tpl.Date], start)
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]DaySlots, 0, len(dates))
	for _, d := range dates {
		starts := byDate[d]
		sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
		out = append(out, DaySlots{Date: d, Starts: dedupe(starts)})
	}
	return out
}

// overlapsAny reports whether the half-open session [start, start+session)
// intersects any active session [a, a+session).
func overlapsAny(start time.Time, session time.Duration, active []time.Time) bool {
	end := start.Add(session)
	for _, a := range active {
		if start.Before(a.Add(session)) && a.Before(end) {
			return true
		}
	}
	return false
}

// dedupe removes adjacent duplicates from a sorted slice. Overlapping
// templates can yield the same start twice; listing it once is enough.
func dedupe(starts []time.Time) []time.Time {
	out := starts[:0]
	for i, s := range starts {
		if i > 0 && s.Equal(starts[i-1]) {
			continue
		}
		out = append(out, s)
	}
	return out
}
