package timeslot

import (
	"testing"
	"time"
)

func copenhagen(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	return loc
}

func TestCanonicalInstant_NaiveUsesPlatformZone(t *testing.T) {
	loc := copenhagen(t)

	// 2025-03-10 is before the spring DST transition: CET, UTC+1.
	got, err := CanonicalInstant("2025-03-10T14:30:00", loc)
	if err != nil {
		t.Fatalf("CanonicalInstant failed: %v", err)
	}
	want := time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// 2025-07-10 is CEST, UTC+2. Same wall clock, different offset.
	got, err = CanonicalInstant("2025-07-10T14:30:00", loc)
	if err != nil {
		t.Fatalf("CanonicalInstant failed: %v", err)
	}
	want = time.Date(2025, 7, 10, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalInstant_ExplicitOffsetWins(t *testing.T) {
	loc := copenhagen(t)
	got, err := CanonicalInstant("2025-03-10T14:30:00+05:00", loc)
	if err != nil {
		t.Fatalf("CanonicalInstant failed: %v", err)
	}
	want := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalInstant_Unparsable(t *testing.T) {
	loc := copenhagen(t)
	for _, raw := range []string{"", "not-a-time", "14:30", "2025-13-40T99:99"} {
		if _, err := CanonicalInstant(raw, loc); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestWithinWindow_InclusiveBounds(t *testing.T) {
	loc := copenhagen(t)

	// Slot 11:00-12:00 local.
	start, end := 11*60, 12*60
	cases := []struct {
		name  string
		local string
		want  bool
	}{
		{"start boundary", "2025-03-10T11:00:00", true},
		{"inside", "2025-03-10T11:30:00", true},
		{"end boundary", "2025-03-10T12:00:00", true},
		{"before", "2025-03-10T10:59:00", false},
		{"after", "2025-03-10T12:01:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			instant, err := CanonicalInstant(tc.local, loc)
			if err != nil {
				t.Fatalf("CanonicalInstant failed: %v", err)
			}
			if got := WithinWindow(instant, loc, start, end); got != tc.want {
				t.Fatalf("WithinWindow(%s) = %v, want %v", tc.local, got, tc.want)
			}
		})
	}
}

func TestGridAligned(t *testing.T) {
	loc := copenhagen(t)
	cases := []struct {
		local string
		grid  int
		want  bool
	}{
		{"2025-03-10T14:00:00", 15, true},
		{"2025-03-10T14:30:00", 15, true},
		{"2025-03-10T14:45:00", 15, true},
		{"2025-03-10T14:37:00", 15, false},
		{"2025-03-10T14:30:30", 15, false},
		{"2025-03-10T14:30:00", 60, false},
		{"2025-03-10T14:00:00", 60, true},
	}
	for _, tc := range cases {
		instant, err := CanonicalInstant(tc.local, loc)
		if err != nil {
			t.Fatalf("CanonicalInstant(%q) failed: %v", tc.local, err)
		}
		if got := GridAligned(instant, loc, tc.grid); got != tc.want {
			t.Fatalf("GridAligned(%s, grid %d) = %v, want %v", tc.local, tc.grid, got, tc.want)
		}
	}
}

func TestInstantOnDate_DSTTransition(t *testing.T) {
	loc := copenhagen(t)

	// Day before the 2025-03-30 spring-forward: UTC+1.
	before, err := InstantOnDate("2025-03-29", 14*60, loc)
	if err != nil {
		t.Fatalf("InstantOnDate failed: %v", err)
	}
	if want := time.Date(2025, 3, 29, 13, 0, 0, 0, time.UTC); !before.Equal(want) {
		t.Fatalf("expected %s, got %s", want, before)
	}

	// Day after: UTC+2. Same wall clock, one hour earlier in UTC.
	after, err := InstantOnDate("2025-03-30", 14*60, loc)
	if err != nil {
		t.Fatalf("InstantOnDate failed: %v", err)
	}
	if want := time.Date(2025, 3, 30, 12, 0, 0, 0, time.UTC); !after.Equal(want) {
		t.Fatalf("expected %s, got %s", want, after)
	}
}

func TestLocalDate_CrossesMidnightInUTC(t *testing.T) {
	loc := copenhagen(t)
	// 23:30 UTC on the 9th is 00:30 local on the 10th.
	instant := time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC)
	if got := LocalDate(instant, loc); got != "2025-03-10" {
		t.Fatalf("expected 2025-03-10, got %s", got)
	}
}
