// Package handlers exposes the booking engine over HTTP. Handlers translate
// engine sentinels into status codes and keep all domain decisions in the
// engine; the only logic living here is idempotency-key replay, which is an
// HTTP concern.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/engine"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/model"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/storage"
)

type BookingHandler struct {
	engine *engine.Engine
	ledger *storage.BookingLedger
	logger *slog.Logger
}

// NewBookingHandler wires the handler. ledger may be nil in tests that do not
// exercise idempotency replay; the Idempotency-Key header is then ignored.
func NewBookingHandler(eng *engine.Engine, ledger *storage.BookingLedger, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: eng, ledger: ledger, logger: logger}
}

type createBookingRequest struct {
	TutorID       string `json:"tutor_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	StartTime     string `json:"start_time"`
}

type bookingResponse struct {
	BookingID       string `json:"booking_id"`
	TutorID         string `json:"tutor_id"`
	CustomerID      string `json:"customer_id"`
	StartTime       string `json:"start_time"`
	Status          string `json:"status"`
	PaymentDeadline string `json:"payment_deadline,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type confirmBookingRequest struct {
	BookingID string `json:"booking_id"`
}

type cancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type dayAvailability struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

func toBookingResponse(b model.Booking) bookingResponse {
	resp := bookingResponse{
		BookingID:  b.ID,
		TutorID:    b.TutorID,
		CustomerID: b.CustomerID,
		StartTime:  b.StartTime.UTC().Format(time.RFC3339),
		Status:     string(b.Status),
		CreatedAt:  b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.PaymentDeadline != nil {
		resp.PaymentDeadline = b.PaymentDeadline.UTC().Format(time.RFC3339)
	}
	if b.CancelReason != "" {
		resp.CancelReason = b.CancelReason
	}
	return resp
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if customerID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	in := engine.CreateBookingInput{
		TutorID:       req.TutorID,
		CustomerID:    customerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(r.Header.Get("X-User-Email")),
		StartTime:     req.StartTime,
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && h.ledger != nil {
		h.createIdempotent(w, r, customerID, idempotencyKey, in)
		return
	}

	b, err := h.engine.CreateBooking(r.Context(), in)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

// createIdempotent serializes requests sharing an Idempotency-Key: the key
// row is claimed under FOR UPDATE before the reservation is attempted, and
// the recorded response is replayed on every later request with the key.
// Only domain outcomes (created / validation / conflict) are recorded;
// dependency failures leave the key open so the client can retry it.
func (h *BookingHandler) createIdempotent(w http.ResponseWriter, r *http.Request, customerID, key string, in engine.CreateBookingInput) {
	ctx := r.Context()
	tx, err := h.ledger.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, _, err := h.ledger.LockIdempotencyKey(ctx, tx, customerID, key)
	if err != nil {
		http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
		return
	}
	if rec.Completed() {
		_ = tx.Commit(ctx)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rec.StatusCode)
		_, _ = w.Write(rec.ResponsePayload)
		return
	}

	b, createErr := h.engine.CreateBooking(ctx, in)

	status, body := h.resolveCreateOutcome(b, createErr)
	if status == 0 {
		// Not a domain outcome; leave the key unfinalized for retry.
		h.writeEngineError(w, createErr)
		return
	}
	if err := h.ledger.FinalizeIdempotency(ctx, tx, customerID, key, b.ID, status, body); err != nil {
		http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// resolveCreateOutcome maps a create result to a recordable (status, body)
// pair, or 0 when the error is transient and must not be recorded.
func (h *BookingHandler) resolveCreateOutcome(b model.Booking, err error) (int, []byte) {
	switch {
	case err == nil:
		body, jerr := json.Marshal(toBookingResponse(b))
		if jerr != nil {
			return 0, nil
		}
		return http.StatusCreated, body
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest, errorBody(trimSentinel(err))
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, errorBody(trimSentinel(err))
	case errors.Is(err, engine.ErrSlotUnavailable):
		return http.StatusConflict, errorBody("slot is no longer available")
	default:
		return 0, nil
	}
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req confirmBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.BookingID) == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}

	b, err := h.engine.ConfirmBooking(r.Context(), req.BookingID)
	if err != nil && !errors.Is(err, engine.ErrStaleTransition) {
		h.writeEngineError(w, err)
		return
	}
	// A stale confirmation is reported as the booking's actual state; the
	// caller inspects status instead of retrying.
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.BookingID) == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}

	b, err := h.engine.CancelBooking(r.Context(), req.BookingID, strings.TrimSpace(req.Reason))
	if err != nil && !errors.Is(err, engine.ErrStaleTransition) {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("booking_id"))
	if id == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}
	b, err := h.engine.GetBooking(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := engine.ListQuery{
		TutorID:    strings.TrimSpace(r.URL.Query().Get("tutor_id")),
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer_id")),
	}
	if q.CustomerID == "" && q.TutorID == "" {
		q.CustomerID = strings.TrimSpace(r.Header.Get("X-User-Id"))
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			q.Limit = n
		}
	}

	bookings, err := h.engine.ListBookings(r.Context(), q)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	items := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tutorID := strings.TrimSpace(r.URL.Query().Get("tutor_id"))
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if to == "" {
		to = from
	}

	days, err := h.engine.GetAvailability(r.Context(), tutorID, from, to)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	out := make([]dayAvailability, 0, len(days))
	for _, d := range days {
		slots := make([]string, 0, len(d.Starts))
		for _, s := range d.Starts {
			slots = append(slots, s.UTC().Format(time.RFC3339))
		}
		out = append(out, dayAvailability{Date: d.Date, Slots: slots})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BookingHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		http.Error(w, trimSentinel(err), http.StatusBadRequest)
	case errors.Is(err, engine.ErrNotFound):
		http.Error(w, trimSentinel(err), http.StatusNotFound)
	case errors.Is(err, engine.ErrSlotUnavailable):
		// Distinct from validation failures so clients can offer the
		// customer a different slot instead of a form error.
		http.Error(w, "slot is no longer available", http.StatusConflict)
	default:
		h.logger.Error("booking request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// trimSentinel strips the wrapping sentinel prefix ("validation: ...") so
// responses carry only the human-readable part.
func trimSentinel(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

// errorBody renders an error message as the JSON object stored in (and
// replayed from) the idempotency record.
func errorBody(msg string) []byte {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
