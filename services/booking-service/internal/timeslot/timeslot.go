// Package timeslot converts customer-supplied local times into canonical UTC
// instants and matches instants against tutor-published slot windows. Slot
// windows are wall-clock times of day, so all matching happens on the
// platform timezone's wall clock, with the offset resolved per calendar date
// from the IANA tz database (daylight-saving transitions included).
package timeslot

import (
	"errors"
	"strings"
	"time"
)

var ErrUnparsableTime = errors.New("unparsable time")

// Layouts accepted for offset-naive input. Naive values are interpreted in
// the platform timezone for the calendar date they name.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// CanonicalInstant parses a client-supplied timestamp and returns the
// corresponding UTC instant. Input carrying an explicit offset (RFC 3339) is
// honored as-is; offset-naive input falls back to loc.
func CanonicalInstant(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrUnparsableTime
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrUnparsableTime
}

// MinuteOfDay returns the wall-clock minute (0..1439) of instant in loc.
func MinuteOfDay(instant time.Time, loc *time.Location) int {
	local := instant.In(loc)
	return local.Hour()*60 + local.Minute()
}

// LocalDate returns the calendar date (YYYY-MM-DD) of instant in loc.
func LocalDate(instant time.Time, loc *time.Location) string {
	return instant.In(loc).Format("2006-01-02")
}

// GridAligned reports whether instant falls on the booking grid in loc:
// whole minutes only, at a multiple of gridMinutes past the hour. The grid
// keeps requested instants enumerable so availability subtraction stays an
// instant-overlap problem rather than arbitrary-interval arithmetic.
func GridAligned(instant time.Time, loc *time.Location, gridMinutes int) bool {
	if gridMinutes <= 0 {
		gridMinutes = 60
	}
	local := instant.In(loc)
	if local.Second() != 0 || local.Nanosecond() != 0 {
		return false
	}
	return local.Minute()%gridMinutes == 0
}

// WithinWindow reports whether instant's wall-clock time of day falls within
// [startMinute, endMinute]. Both bounds are inclusive: a request at the exact
// end of one slot, which is also the start of an adjacent slot, matches
// either.
func WithinWindow(instant time.Time, loc *time.Location, startMinute, endMinute int) bool {
	m := MinuteOfDay(instant, loc)
	return m >= startMinute && m <= endMinute
}

// WithinBusinessHours reports whether instant's wall-clock hour in loc falls
// within the platform's bookable hours [openHour, closeHour]. The close hour
// is inclusive for the same boundary reason as WithinWindow.
func WithinBusinessHours(instant time.Time, loc *time.Location, openHour, closeHour int) bool {
	m := MinuteOfDay(instant, loc)
	return m >= openHour*60 && m <= closeHour*60
}

// InstantOnDate builds the UTC instant for minuteOfDay on the given calendar
// date (YYYY-MM-DD) in loc. The tz database resolves the offset for that
// specific date, so dates on either side of a daylight-saving transition get
// the correct offset.
func InstantOnDate(date string, minuteOfDay int, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, ErrUnparsableTime
	}
	return time.Date(day.Year(), day.Month(), day.Day(), minuteOfDay/60, minuteOfDay%60, 0, 0, loc).UTC(), nil
}
