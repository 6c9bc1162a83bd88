package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/catalog"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/model"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/outbox"
)

// memLedger is an in-memory Ledger with the same atomicity contract as the
// Postgres implementation: Reserve is exclusive per (tutor, instant) pair and
// the transition methods are compare-and-swap on the current status.
type memLedger struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
	events   []outbox.Event
}

func newMemLedger() *memLedger {
	return &memLedger{bookings: map[string]*model.Booking{}}
}

func (m *memLedger) Reserve(_ context.Context, b *model.Booking, evt outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bookings {
		if existing.TutorID != b.TutorID || !existing.StartTime.Equal(b.StartTime) {
			continue
		}
		if existing.Active(b.CreatedAt) {
			return ErrSlotUnavailable
		}
		// Dead awaiting-payment row: reclaim it so the pair frees up even
		// before the sweeper runs, mirroring the in-transaction reclaim.
		// The reclaim emits the expired event itself since the sweeper
		// will never see the row again.
		if existing.Status == model.StatusAwaitingPayment {
			existing.Status = model.StatusCancelled
			existing.CancelReason = model.ReasonPaymentExpired
			existing.PaymentDeadline = nil
			expired, err := outbox.SessionEvent(outbox.EventSessionExpired, *existing, model.ReasonPaymentExpired)
			if err != nil {
				return err
			}
			m.events = append(m.events, expired)
		}
	}
	copied := *b
	m.bookings[b.ID] = &copied
	m.events = append(m.events, evt)
	return nil
}

func (m *memLedger) ActiveBooking(_ context.Context, tutorID string, start, now time.Time) (model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.TutorID == tutorID && b.StartTime.Equal(start) && b.Active(now) {
			return *b, nil
		}
	}
	return model.Booking{}, ErrNotFound
}

func (m *memLedger) Get(_ context.Context, id string) (model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return model.Booking{}, ErrNotFound
	}
	return *b, nil
}

func (m *memLedger) Confirm(_ context.Context, id string, now time.Time, evt outbox.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != model.StatusAwaitingPayment || b.PaymentDeadline == nil || now.After(*b.PaymentDeadline) {
		return false, nil
	}
	t := now
	b.Status = model.StatusConfirmed
	b.ConfirmedAt = &t
	b.PaymentDeadline = nil
	m.events = append(m.events, evt)
	return true, nil
}

func (m *memLedger) Cancel(_ context.Context, id, reason string, now time.Time, evt outbox.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != model.StatusAwaitingPayment && b.Status != model.StatusConfirmed {
		return false, nil
	}
	t := now
	b.Status = model.StatusCancelled
	b.CancelReason = reason
	b.CancelledAt = &t
	b.PaymentDeadline = nil
	m.events = append(m.events, evt)
	return true, nil
}

func (m *memLedger) Expire(_ context.Context, id string, now time.Time, evt outbox.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != model.StatusAwaitingPayment || b.PaymentDeadline == nil || now.Before(*b.PaymentDeadline) {
		return false, nil
	}
	t := now
	b.Status = model.StatusCancelled
	b.CancelReason = model.ReasonPaymentExpired
	b.CancelledAt = &t
	b.PaymentDeadline = nil
	m.events = append(m.events, evt)
	return true, nil
}

func (m *memLedger) ActiveStarts(_ context.Context, tutorID string, from, to, now time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, b := range m.bookings {
		if b.TutorID != tutorID || !b.Active(now) {
			continue
		}
		if b.StartTime.Before(from) || !b.StartTime.Before(to) {
			continue
		}
		out = append(out, b.StartTime)
	}
	return out, nil
}

func (m *memLedger) DueForExpiry(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type due struct {
		id       string
		deadline time.Time
	}
	var dues []due
	for id, b := range m.bookings {
		if b.Status == model.StatusAwaitingPayment && b.PaymentDeadline != nil && !now.Before(*b.PaymentDeadline) {
			dues = append(dues, due{id, *b.PaymentDeadline})
		}
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].deadline.Before(dues[j].deadline) })
	ids := make([]string, 0, len(dues))
	for _, d := range dues {
		if len(ids) == limit {
			break
		}
		ids = append(ids, d.id)
	}
	return ids, nil
}

func (m *memLedger) List(_ context.Context, q ListQuery) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.bookings {
		if q.TutorID != "" && b.TutorID != q.TutorID {
			continue
		}
		if q.CustomerID != "" && b.CustomerID != q.CustomerID {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memLedger) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

// memCatalog serves slot templates from memory.
type memCatalog struct {
	slots  []catalog.SlotTemplate
	tutors map[string]bool
}

func (c *memCatalog) ListSlots(_ context.Context, tutorID, fromDate, toDate string) ([]catalog.SlotTemplate, error) {
	var out []catalog.SlotTemplate
	for _, s := range c.slots {
		if s.TutorID == tutorID && s.Date >= fromDate && s.Date <= toDate {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *memCatalog) TutorExists(_ context.Context, tutorID string) (bool, error) {
	return c.tutors[tutorID], nil
}

func testEngine(t *testing.T, cat *memCatalog) (*Engine, *memLedger, *time.Time) {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	ledger := newMemLedger()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(ledger, cat, logger, Config{Location: loc})

	var mu sync.Mutex
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return eng, ledger, &now
}

func copenhagenCatalog() *memCatalog {
	return &memCatalog{
		slots: []catalog.SlotTemplate{
			// 14:00-16:00 local on 2025-03-10 (CET, UTC+1).
			{ID: "slot-1", TutorID: "tut-1", Date: "2025-03-10", StartMinute: 14 * 60, EndMinute: 16 * 60},
		},
		tutors: map[string]bool{"tut-1": true},
	}
}

func mustCreate(t *testing.T, eng *Engine, start string) model.Booking {
	t.Helper()
	b, err := eng.CreateBooking(context.Background(), CreateBookingInput{
		TutorID:    "tut-1",
		CustomerID: "cust-1",
		StartTime:  start,
	})
	if err != nil {
		t.Fatalf("CreateBooking(%s) failed: %v", start, err)
	}
	return b
}

func TestCreateBooking_ReservesWithPaymentDeadline(t *testing.T) {
	eng, ledger, now := testEngine(t, copenhagenCatalog())

	b := mustCreate(t, eng, "2025-03-10T14:00")

	if b.Status != model.StatusAwaitingPayment {
		t.Fatalf("expected awaiting_payment, got %s", b.Status)
	}
	if want := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC); !b.StartTime.Equal(want) {
		t.Fatalf("expected canonical start %s, got %s", want, b.StartTime)
	}
	if b.PaymentDeadline == nil || !b.PaymentDeadline.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("expected deadline 15m after creation, got %v", b.PaymentDeadline)
	}
	if got := ledger.eventTypes(); len(got) != 1 || got[0] != outbox.EventSessionReserved {
		t.Fatalf("expected one reserved event, got %v", got)
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	tests := []struct {
		name    string
		in      CreateBookingInput
		wantErr error
	}{
		{
			name:    "missing tutor",
			in:      CreateBookingInput{CustomerID: "cust-1", StartTime: "2025-03-10T14:00"},
			wantErr: ErrValidation,
		},
		{
			name:    "unparsable time",
			in:      CreateBookingInput{TutorID: "tut-1", CustomerID: "cust-1", StartTime: "next tuesday"},
			wantErr: ErrValidation,
		},
		{
			name:    "past instant",
			in:      CreateBookingInput{TutorID: "tut-1", CustomerID: "cust-1", StartTime: "2025-03-09T14:00"},
			wantErr: ErrValidation,
		},
		{
			name:    "off the booking grid",
			in:      CreateBookingInput{TutorID: "tut-1", CustomerID: "cust-1", StartTime: "2025-03-10T14:07"},
			wantErr: ErrValidation,
		},
		{
			name:    "outside business hours",
			in:      CreateBookingInput{TutorID: "tut-1", CustomerID: "cust-1", StartTime: "2025-03-10T23:00"},
			wantErr: ErrValidation,
		},
		{
			name:    "unknown tutor",
			in:      CreateBookingInput{TutorID: "ghost", CustomerID: "cust-1", StartTime: "2025-03-10T14:00"},
			wantErr: ErrNotFound,
		},
		{
			name:    "no slot covers the time",
			in:      CreateBookingInput{TutorID: "tut-1", CustomerID: "cust-1", StartTime: "2025-03-10T11:00"},
			wantErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, _, _ := testEngine(t, copenhagenCatalog())
			_, err := eng.CreateBooking(context.Background(), tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateBooking_ExplicitOffsetMatchesLocalWallClock(t *testing.T) {
	eng, _, _ := testEngine(t, copenhagenCatalog())

	// 13:00Z is 14:00 local (CET in March): must match the 14:00 slot.
	b := mustCreate(t, eng, "2025-03-10T13:00:00Z")
	if want := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC); !b.StartTime.Equal(want) {
		t.Fatalf("expected %s, got %s", want, b.StartTime)
	}
}

func TestCreateBooking_ConcurrentSameSlotSingleWinner(t *testing.T) {
	eng, _, _ := testEngine(t, copenhagenCatalog())

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.CreateBooking(context.Background(), CreateBookingInput{
				TutorID:    "tut-1",
				CustomerID: fmt.Sprintf("cust-%d", i),
				StartTime:  "2025-03-10T14:00",
			})
		}(i)
	}
	wg.Wait()

	won, lost := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotUnavailable):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != n-1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d conflicts", won, lost)
	}
}

func TestCreateBooking_RetryReplaysOwnLiveHold(t *testing.T) {
	eng, ledger, _ := testEngine(t, copenhagenCatalog())

	first := mustCreate(t, eng, "2025-03-10T14:00")

	// A client retrying after a lost response collides with its own live
	// hold and must get that hold back, not a conflict.
	again := mustCreate(t, eng, "2025-03-10T14:00")
	if again.ID != first.ID {
		t.Fatalf("expected replayed booking %s, got %s", first.ID, again.ID)
	}
	if got := ledger.eventTypes(); len(got) != 1 || got[0] != outbox.EventSessionReserved {
		t.Fatalf("replay must not emit a second event, got %v", got)
	}

	// Another customer is still turned away.
	_, err := eng.CreateBooking(context.Background(), CreateBookingInput{
		TutorID:    "tut-1",
		CustomerID: "cust-2",
		StartTime:  "2025-03-10T14:00",
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected conflict for another customer, got %v", err)
	}
}

func TestConfirmBooking_BeforeDeadline(t *testing.T) {
	eng, ledger, _ := testEngine(t, copenhagenCatalog())
	b := mustCreate(t, eng, "2025-03-10T14:00")

	got, err := eng.ConfirmBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("ConfirmBooking failed: %v", err)
	}
	if got.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
	if got.PaymentDeadline != nil {
		t.Fatalf("deadline should be cleared on confirmation")
	}

	// Replayed payment event: no-op success, no second event.
	before := len(ledger.eventTypes())
	if _, err := eng.ConfirmBooking(context.Background(), b.ID); err != nil {
		t.Fatalf("duplicate confirm should succeed, got %v", err)
	}
	if after := len(ledger.eventTypes()); after != before {
		t.Fatalf("duplicate confirm emitted an event")
	}
}

func TestExpireBooking_OnlyAfterDeadline(t *testing.T) {
	eng, _, now := testEngine(t, copenhagenCatalog())
	b := mustCreate(t, eng, "2025-03-10T14:00")

	// Window still open: the reservation must survive.
	if err := eng.ExpireBooking(context.Background(), b.ID); !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected stale transition before deadline, got %v", err)
	}

	*now = now.Add(15 * time.Minute)
	if err := eng.ExpireBooking(context.Background(), b.ID); err != nil {
		t.Fatalf("ExpireBooking at deadline failed: %v", err)
	}
	got, err := eng.GetBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if got.Status != model.StatusCancelled || got.CancelReason != model.ReasonPaymentExpired {
		t.Fatalf("expected cancelled/payment_expired, got %s/%s", got.Status, got.CancelReason)
	}
}

func TestConfirmBooking_AfterExpiryIsStale(t *testing.T) {
	eng, _, now := testEngine(t, copenhagenCatalog())
	b := mustCreate(t, eng, "2025-03-10T14:00")

	*now = now.Add(16 * time.Minute)
	if err := eng.ExpireBooking(context.Background(), b.ID); err != nil {
		t.Fatalf("ExpireBooking failed: %v", err)
	}

	// Late payment success must not resurrect the booking.
	got, err := eng.ConfirmBooking(context.Background(), b.ID)
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected stale transition, got %v", err)
	}
	if got.Status != model.StatusCancelled {
		t.Fatalf("expected booking to stay cancelled, got %s", got.Status)
	}
}

func TestCancelBooking_Idempotent(t *testing.T) {
	eng, _, _ := testEngine(t, copenhagenCatalog())
	b := mustCreate(t, eng, "2025-03-10T14:00")

	got, err := eng.CancelBooking(context.Background(), b.ID, model.ReasonCustomer)
	if err != nil {
		t.Fatalf("CancelBooking failed: %v", err)
	}
	if got.Status != model.StatusCancelled || got.CancelReason != model.ReasonCustomer {
		t.Fatalf("expected cancelled/customer_request, got %s/%s", got.Status, got.CancelReason)
	}

	again, err := eng.CancelBooking(context.Background(), b.ID, model.ReasonTutor)
	if err != nil {
		t.Fatalf("repeat cancel should succeed, got %v", err)
	}
	if again.CancelReason != model.ReasonCustomer {
		t.Fatalf("repeat cancel must not overwrite the original reason")
	}
}

func TestConfirmExpireRace_ExactlyOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		eng, _, now := testEngine(t, copenhagenCatalog())
		b := mustCreate(t, eng, "2025-03-10T14:00")

		// At the exact deadline both transitions are eligible; the ledger's
		// compare-and-swap lets only one through.
		*now = now.Add(15 * time.Minute)

		var wg sync.WaitGroup
		var confirmErr, expireErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, confirmErr = eng.ConfirmBooking(context.Background(), b.ID)
		}()
		go func() {
			defer wg.Done()
			expireErr = eng.ExpireBooking(context.Background(), b.ID)
		}()
		wg.Wait()

		got, err := eng.GetBooking(context.Background(), b.ID)
		if err != nil {
			t.Fatalf("GetBooking failed: %v", err)
		}
		switch got.Status {
		case model.StatusConfirmed:
			if confirmErr != nil {
				t.Fatalf("confirm won but returned %v", confirmErr)
			}
			if !errors.Is(expireErr, ErrStaleTransition) {
				t.Fatalf("expire lost but returned %v", expireErr)
			}
		case model.StatusCancelled:
			if expireErr != nil {
				t.Fatalf("expire won but returned %v", expireErr)
			}
			if !errors.Is(confirmErr, ErrStaleTransition) {
				t.Fatalf("confirm lost but returned %v", confirmErr)
			}
		default:
			t.Fatalf("booking ended in %s; want confirmed or cancelled", got.Status)
		}
	}
}

func TestSweepExpired(t *testing.T) {
	cat := copenhagenCatalog()
	eng, _, now := testEngine(t, cat)

	first := mustCreate(t, eng, "2025-03-10T14:00")
	second := mustCreate(t, eng, "2025-03-10T15:00")

	// One confirmed before the window lapses; the other left unpaid.
	if _, err := eng.ConfirmBooking(context.Background(), first.ID); err != nil {
		t.Fatalf("ConfirmBooking failed: %v", err)
	}
	*now = now.Add(20 * time.Minute)

	n, err := eng.SweepExpired(context.Background(), 50)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}

	got, _ := eng.GetBooking(context.Background(), second.ID)
	if got.Status != model.StatusCancelled || got.CancelReason != model.ReasonPaymentExpired {
		t.Fatalf("expected second booking expired, got %s/%s", got.Status, got.CancelReason)
	}
	if kept, _ := eng.GetBooking(context.Background(), first.ID); kept.Status != model.StatusConfirmed {
		t.Fatalf("confirmed booking must survive the sweep, got %s", kept.Status)
	}
}

func TestReserve_ReclaimsLapsedReservationBeforeSweep(t *testing.T) {
	eng, _, now := testEngine(t, copenhagenCatalog())

	stale := mustCreate(t, eng, "2025-03-10T14:00")
	*now = now.Add(20 * time.Minute)

	// Deadline passed but the sweeper has not run: the pair must still be
	// reservable, with the dead row reclaimed in the same step.
	fresh := mustCreate(t, eng, "2025-03-10T14:00")

	dead, _ := eng.GetBooking(context.Background(), stale.ID)
	if dead.Status != model.StatusCancelled {
		t.Fatalf("expected stale reservation reclaimed, got %s", dead.Status)
	}
	live, _ := eng.GetBooking(context.Background(), fresh.ID)
	if live.Status != model.StatusAwaitingPayment {
		t.Fatalf("expected fresh reservation awaiting payment, got %s", live.Status)
	}
}

func TestReserve_ReclaimEmitsExpiredEvent(t *testing.T) {
	eng, ledger, now := testEngine(t, copenhagenCatalog())

	mustCreate(t, eng, "2025-03-10T14:00")
	*now = now.Add(20 * time.Minute)
	mustCreate(t, eng, "2025-03-10T14:00")

	// The reclaimed booking leaves the sweeper's scan, so its expired event
	// must come from the reclaim itself.
	want := []string{
		outbox.EventSessionReserved,
		outbox.EventSessionExpired,
		outbox.EventSessionReserved,
	}
	got := ledger.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestGetAvailability_TracksLifecycle(t *testing.T) {
	eng, _, _ := testEngine(t, copenhagenCatalog())
	eng.cfg.AlignMinutes = 30

	starts := func() []time.Time {
		t.Helper()
		days, err := eng.GetAvailability(context.Background(), "tut-1", "2025-03-10", "2025-03-10")
		if err != nil {
			t.Fatalf("GetAvailability failed: %v", err)
		}
		if len(days) == 0 {
			return nil
		}
		return days[0].Starts
	}

	if got := starts(); len(got) != 2 {
		t.Fatalf("expected 14:00 and 15:00 free, got %v", got)
	}

	// A 14:30 booking overlaps both hour-long sessions, hiding both starts.
	b := mustCreate(t, eng, "2025-03-10T14:30")
	if got := starts(); len(got) != 0 {
		t.Fatalf("expected nothing free with a 14:30 hold, got %v", got)
	}

	if _, err := eng.CancelBooking(context.Background(), b.ID, model.ReasonCustomer); err != nil {
		t.Fatalf("CancelBooking failed: %v", err)
	}
	if got := starts(); len(got) != 2 {
		t.Fatalf("expected both starts released after cancel, got %v", got)
	}
}

func TestGetAvailability_Validation(t *testing.T) {
	eng, _, _ := testEngine(t, copenhagenCatalog())

	if _, err := eng.GetAvailability(context.Background(), "", "2025-03-10", "2025-03-10"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty tutor, got %v", err)
	}
	if _, err := eng.GetAvailability(context.Background(), "tut-1", "2025-03-12", "2025-03-10"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for inverted range, got %v", err)
	}
	if _, err := eng.GetAvailability(context.Background(), "tut-1", "2025-03-10", "2025-09-10"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for oversized range, got %v", err)
	}
	if _, err := eng.GetAvailability(context.Background(), "ghost", "2025-03-10", "2025-03-10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown tutor, got %v", err)
	}
}

func TestListBookings(t *testing.T) {
	eng, _, _ := testEngine(t, copenhagenCatalog())
	mustCreate(t, eng, "2025-03-10T14:00")
	mustCreate(t, eng, "2025-03-10T15:00")

	if _, err := eng.ListBookings(context.Background(), ListQuery{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without a filter, got %v", err)
	}

	got, err := eng.ListBookings(context.Background(), ListQuery{CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("ListBookings failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bookings, got %d", len(got))
	}
	if !got[0].StartTime.After(got[1].StartTime) {
		t.Fatalf("expected newest start first")
	}
}
