package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/catalog"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/engine"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/model"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/outbox"
)

// stubLedger keeps bookings in a map with the same guard semantics the
// engine expects from storage.
type stubLedger struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
}

func newStubLedger() *stubLedger {
	return &stubLedger{bookings: map[string]*model.Booking{}}
}

func (s *stubLedger) Reserve(_ context.Context, b *model.Booking, _ outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.bookings {
		if existing.TutorID == b.TutorID && existing.StartTime.Equal(b.StartTime) && existing.Active(b.CreatedAt) {
			return engine.ErrSlotUnavailable
		}
	}
	copied := *b
	s.bookings[b.ID] = &copied
	return nil
}

func (s *stubLedger) ActiveBooking(_ context.Context, tutorID string, start, now time.Time) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.TutorID == tutorID && b.StartTime.Equal(start) && b.Active(now) {
			return *b, nil
		}
	}
	return model.Booking{}, engine.ErrNotFound
}

func (s *stubLedger) Get(_ context.Context, id string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, engine.ErrNotFound
	}
	return *b, nil
}

func (s *stubLedger) Confirm(_ context.Context, id string, now time.Time, _ outbox.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, engine.ErrNotFound
	}
	if b.Status != model.StatusAwaitingPayment || b.PaymentDeadline == nil || now.After(*b.PaymentDeadline) {
		return false, nil
	}
	b.Status = model.StatusConfirmed
	b.PaymentDeadline = nil
	return true, nil
}

func (s *stubLedger) Cancel(_ context.Context, id, reason string, now time.Time, _ outbox.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, engine.ErrNotFound
	}
	if b.Status.Terminal() {
		return false, nil
	}
	t := now
	b.Status = model.StatusCancelled
	b.CancelReason = reason
	b.CancelledAt = &t
	b.PaymentDeadline = nil
	return true, nil
}

func (s *stubLedger) Expire(_ context.Context, id string, now time.Time, _ outbox.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, engine.ErrNotFound
	}
	if b.Status != model.StatusAwaitingPayment || b.PaymentDeadline == nil || now.Before(*b.PaymentDeadline) {
		return false, nil
	}
	t := now
	b.Status = model.StatusCancelled
	b.CancelReason = model.ReasonPaymentExpired
	b.CancelledAt = &t
	b.PaymentDeadline = nil
	return true, nil
}

func (s *stubLedger) ActiveStarts(_ context.Context, tutorID string, from, to, now time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Time
	for _, b := range s.bookings {
		if b.TutorID == tutorID && b.Active(now) && !b.StartTime.Before(from) && b.StartTime.Before(to) {
			out = append(out, b.StartTime)
		}
	}
	return out, nil
}

func (s *stubLedger) DueForExpiry(context.Context, time.Time, int) ([]string, error) {
	return nil, nil
}

func (s *stubLedger) List(_ context.Context, q engine.ListQuery) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if q.TutorID != "" && b.TutorID != q.TutorID {
			continue
		}
		if q.CustomerID != "" && b.CustomerID != q.CustomerID {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

type stubCatalog struct {
	slots []catalog.SlotTemplate
}

func (c *stubCatalog) ListSlots(_ context.Context, tutorID, fromDate, toDate string) ([]catalog.SlotTemplate, error) {
	var out []catalog.SlotTemplate
	for _, s := range c.slots {
		if s.TutorID == tutorID && s.Date >= fromDate && s.Date <= toDate {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *stubCatalog) TutorExists(_ context.Context, tutorID string) (bool, error) {
	for _, s := range c.slots {
		if s.TutorID == tutorID {
			return true, nil
		}
	}
	return false, nil
}

func testHandler(t *testing.T) *BookingHandler {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	cat := &stubCatalog{slots: []catalog.SlotTemplate{
		{ID: "slot-1", TutorID: "tut-1", Date: "2099-06-15", StartMinute: 10 * 60, EndMinute: 12 * 60},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(newStubLedger(), cat, logger, engine.Config{Location: loc})
	return NewBookingHandler(eng, nil, logger)
}

func doCreate(t *testing.T, h *BookingHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	return doCreateAs(t, h, "cust-1", body)
}

func doCreateAs(t *testing.T, h *BookingHandler, customerID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/bookings", strings.NewReader(body))
	req.Header.Set("X-User-Id", customerID)
	req.Header.Set("X-User-Email", "cust@example.com")
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	return rec
}

func TestCreate_Success(t *testing.T) {
	h := testHandler(t)

	rec := doCreate(t, h, `{"tutor_id":"tut-1","customer_name":"Anna","start_time":"2099-06-15T10:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp bookingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Status != "awaiting_payment" {
		t.Fatalf("expected awaiting_payment, got %s", resp.Status)
	}
	if resp.PaymentDeadline == "" {
		t.Fatalf("expected a payment deadline in the response")
	}
	// 10:00 local in June is CEST, UTC+2.
	if resp.StartTime != "2099-06-15T08:00:00Z" {
		t.Fatalf("unexpected canonical start %s", resp.StartTime)
	}
}

func TestCreate_RequiresIdentity(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/bookings", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"unparsable time", `{"tutor_id":"tut-1","start_time":"soon"}`, http.StatusBadRequest},
		{"off grid", `{"tutor_id":"tut-1","start_time":"2099-06-15T10:07"}`, http.StatusBadRequest},
		{"unknown tutor", `{"tutor_id":"ghost","start_time":"2099-06-15T10:00"}`, http.StatusNotFound},
		{"no covering slot", `{"tutor_id":"tut-1","start_time":"2099-06-15T15:00"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHandler(t)
			rec := doCreate(t, h, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreate_ConflictIsDistinctFromValidation(t *testing.T) {
	h := testHandler(t)

	if rec := doCreate(t, h, `{"tutor_id":"tut-1","start_time":"2099-06-15T10:00"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first booking failed: %d", rec.Code)
	}
	rec := doCreateAs(t, h, "cust-2", `{"tutor_id":"tut-1","start_time":"2099-06-15T10:00"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no longer available") {
		t.Fatalf("conflict body should name the slot conflict, got %q", rec.Body.String())
	}
}

func TestCreate_RetryBySameCustomerReplaysHold(t *testing.T) {
	h := testHandler(t)

	first := doCreate(t, h, `{"tutor_id":"tut-1","start_time":"2099-06-15T10:00"}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("first booking failed: %d", first.Code)
	}
	var a bookingResponse
	if err := json.Unmarshal(first.Body.Bytes(), &a); err != nil {
		t.Fatalf("bad create response: %v", err)
	}

	// The same customer retrying the request gets the live hold back
	// instead of conflicting with it.
	again := doCreate(t, h, `{"tutor_id":"tut-1","start_time":"2099-06-15T10:00"}`)
	if again.Code != http.StatusCreated {
		t.Fatalf("expected 201 on retry, got %d: %s", again.Code, again.Body.String())
	}
	var b bookingResponse
	if err := json.Unmarshal(again.Body.Bytes(), &b); err != nil {
		t.Fatalf("bad retry response: %v", err)
	}
	if b.BookingID != a.BookingID {
		t.Fatalf("expected the original booking %s, got %s", a.BookingID, b.BookingID)
	}
}

func TestConfirmAndCancel_Lifecycle(t *testing.T) {
	h := testHandler(t)

	created := doCreate(t, h, `{"tutor_id":"tut-1","start_time":"2099-06-15T10:00"}`)
	var b bookingResponse
	if err := json.Unmarshal(created.Body.Bytes(), &b); err != nil {
		t.Fatalf("bad create response: %v", err)
	}

	confirm := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/confirm",
		strings.NewReader(`{"booking_id":"`+b.BookingID+`"}`))
	rec := httptest.NewRecorder()
	h.Confirm(rec, confirm)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var confirmed bookingResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &confirmed)
	if confirmed.Status != "confirmed" {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}

	cancel := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel",
		strings.NewReader(`{"booking_id":"`+b.BookingID+`","reason":"customer_request"}`))
	rec = httptest.NewRecorder()
	h.Cancel(rec, cancel)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", rec.Code)
	}

	// Repeat cancel stays 200.
	cancel = httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel",
		strings.NewReader(`{"booking_id":"`+b.BookingID+`","reason":"customer_request"}`))
	rec = httptest.NewRecorder()
	h.Cancel(rec, cancel)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat cancel: expected 200, got %d", rec.Code)
	}
}

func TestConfirm_StaleReturnsActualState(t *testing.T) {
	h := testHandler(t)

	created := doCreate(t, h, `{"tutor_id":"tut-1","start_time":"2099-06-15T10:00"}`)
	var b bookingResponse
	_ = json.Unmarshal(created.Body.Bytes(), &b)

	cancel := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel",
		strings.NewReader(`{"booking_id":"`+b.BookingID+`"}`))
	rec := httptest.NewRecorder()
	h.Cancel(rec, cancel)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel failed: %d", rec.Code)
	}

	// Payment confirmation landing after the cancellation: 200 with the
	// booking's real state, never a resurrection.
	confirm := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/confirm",
		strings.NewReader(`{"booking_id":"`+b.BookingID+`"}`))
	rec = httptest.NewRecorder()
	h.Confirm(rec, confirm)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got bookingResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestAvailability(t *testing.T) {
	h := testHandler(t)

	// Take 10:00; 11:00 remains.
	if rec := doCreate(t, h, `{"tutor_id":"tut-1","start_time":"2099-06-15T10:00"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/availability?tutor_id=tut-1&from=2099-06-15&to=2099-06-15", nil)
	rec := httptest.NewRecorder()
	h.Availability(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var days []dayAvailability
	if err := json.Unmarshal(rec.Body.Bytes(), &days); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(days) != 1 || len(days[0].Slots) != 1 {
		t.Fatalf("expected one free slot, got %+v", days)
	}
	if days[0].Slots[0] != "2099-06-15T09:00:00Z" {
		t.Fatalf("expected 11:00 local free, got %s", days[0].Slots[0])
	}
}

func TestAvailability_UnknownTutor(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/availability?tutor_id=ghost&from=2099-06-15", nil)
	rec := httptest.NewRecorder()
	h.Availability(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestList_DefaultsToCallerIdentity(t *testing.T) {
	h := testHandler(t)
	if rec := doCreate(t, h, `{"tutor_id":"tut-1","start_time":"2099-06-15T10:00"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	req.Header.Set("X-User-Id", "cust-1")
	rec := httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []bookingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(items) != 1 || items[0].CustomerID != "cust-1" {
		t.Fatalf("expected the caller's booking, got %+v", items)
	}
}
