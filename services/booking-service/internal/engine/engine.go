// Package engine implements the booking state machine: reserving a tutor's
// slot for a payment window, confirming or cancelling on payment outcome,
// and expiring reservations whose window lapsed. All status changes go
// through guarded conditional updates in the ledger so concurrent
// transitions resolve to exactly one winner.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/availability"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/catalog"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/model"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/outbox"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/timeslot"
)

// Ledger is the durable booking store. Implementations must make Reserve
// atomic with respect to concurrent reservations of the same (tutor,
// instant) pair — a storage-level uniqueness guarantee, not an application
// check — and must apply the transition methods as compare-and-swap on the
// current status.
type Ledger interface {
	// Reserve persists b and the reserved event atomically. Returns
	// ErrSlotUnavailable when an active booking already holds the pair.
	Reserve(ctx context.Context, b *model.Booking, evt outbox.Event) error

	// Get returns the booking or ErrNotFound.
	Get(ctx context.Context, id string) (model.Booking, error)

	// ActiveBooking returns the booking currently holding the (tutor,
	// instant) pair, or ErrNotFound when nothing active holds it.
	ActiveBooking(ctx context.Context, tutorID string, start, now time.Time) (model.Booking, error)

	// Confirm flips awaiting_payment -> confirmed iff the deadline has not
	// passed. Reports whether the update took effect.
	Confirm(ctx context.Context, id string, now time.Time, evt outbox.Event) (bool, error)

	// Cancel flips awaiting_payment or confirmed -> cancelled.
	Cancel(ctx context.Context, id, reason string, now time.Time, evt outbox.Event) (bool, error)

	// Expire flips awaiting_payment -> cancelled iff now >= deadline.
	Expire(ctx context.Context, id string, now time.Time, evt outbox.Event) (bool, error)

	// ActiveStarts returns the start instants in [from, to) held by an
	// active booking: confirmed, or awaiting payment with deadline > now.
	ActiveStarts(ctx context.Context, tutorID string, from, to, now time.Time) ([]time.Time, error)

	// DueForExpiry returns ids of awaiting-payment bookings whose deadline
	// passed, oldest first.
	DueForExpiry(ctx context.Context, now time.Time, limit int) ([]string, error)

	// List returns bookings for a tutor or customer, newest start first.
	List(ctx context.Context, q ListQuery) ([]model.Booking, error)
}

type ListQuery struct {
	TutorID    string
	CustomerID string
	Limit      int
}

type Config struct {
	Location      *time.Location
	SessionLength time.Duration
	PaymentWindow time.Duration
	AlignMinutes  int
	OpenHour      int
	CloseHour     int
}

type Engine struct {
	ledger  Ledger
	catalog catalog.Provider
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func New(ledger Ledger, cat catalog.Provider, logger *slog.Logger, cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SessionLength <= 0 {
		cfg.SessionLength = time.Hour
	}
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 15 * time.Minute
	}
	if cfg.AlignMinutes <= 0 {
		cfg.AlignMinutes = 60
	}
	if cfg.OpenHour <= 0 && cfg.CloseHour <= 0 {
		cfg.OpenHour, cfg.CloseHour = 8, 22
	}
	return &Engine{
		ledger:  ledger,
		catalog: cat,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type CreateBookingInput struct {
	TutorID       string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	StartTime     string
}

// CreateBooking reserves the requested instant for the customer. On success
// the booking awaits payment until its deadline; the caller then starts the
// checkout flow referencing the returned id.
func (e *Engine) CreateBooking(ctx context.Context, in CreateBookingInput) (model.Booking, error) {
	in.TutorID = strings.TrimSpace(in.TutorID)
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	if in.TutorID == "" || in.CustomerID == "" {
		return model.Booking{}, fmt.Errorf("%w: tutor_id and customer_id are required", ErrValidation)
	}

	instant, err := timeslot.CanonicalInstant(in.StartTime, e.cfg.Location)
	if err != nil {
		return model.Booking{}, fmt.Errorf("%w: invalid start_time", ErrValidation)
	}

	now := e.now()
	if !instant.After(now) {
		return model.Booking{}, fmt.Errorf("%w: start_time must be in the future", ErrValidation)
	}
	if !timeslot.GridAligned(instant, e.cfg.Location, e.cfg.AlignMinutes) {
		return model.Booking{}, fmt.Errorf("%w: start_time not on the %d-minute booking grid", ErrValidation, e.cfg.AlignMinutes)
	}
	if !timeslot.WithinBusinessHours(instant, e.cfg.Location, e.cfg.OpenHour, e.cfg.CloseHour) {
		return model.Booking{}, fmt.Errorf("%w: start_time outside business hours", ErrValidation)
	}

	date := timeslot.LocalDate(instant, e.cfg.Location)
	templates, err := e.catalog.ListSlots(ctx, in.TutorID, date, date)
	if err != nil {
		return model.Booking{}, fmt.Errorf("list slot templates: %w", err)
	}
	if len(templates) == 0 {
		exists, err := e.catalog.TutorExists(ctx, in.TutorID)
		if err != nil {
			return model.Booking{}, fmt.Errorf("tutor lookup: %w", err)
		}
		if !exists {
			return model.Booking{}, fmt.Errorf("%w: unknown tutor", ErrNotFound)
		}
	}
	if !e.matchesTemplate(instant, templates) {
		return model.Booking{}, fmt.Errorf("%w: no published slot covers the requested time", ErrNotFound)
	}

	deadline := now.Add(e.cfg.PaymentWindow)
	b := &model.Booking{
		ID:              uuid.NewString(),
		TutorID:         in.TutorID,
		CustomerID:      in.CustomerID,
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerEmail:   strings.TrimSpace(in.CustomerEmail),
		StartTime:       instant,
		Status:          model.StatusAwaitingPayment,
		PaymentDeadline: &deadline,
		CreatedAt:       now,
	}

	evt, err := outbox.SessionEvent(outbox.EventSessionReserved, *b, "")
	if err != nil {
		return model.Booking{}, err
	}
	if err := e.ledger.Reserve(ctx, b, evt); err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			// A retry can collide with the caller's own live hold when a
			// previous attempt reserved but the response never landed.
			// Replaying that hold keeps retries idempotent.
			if held, herr := e.ledger.ActiveBooking(ctx, in.TutorID, instant, now); herr == nil && held.CustomerID == in.CustomerID {
				e.logger.Info("reservation replayed",
					"booking_id", held.ID,
					"tutor_id", in.TutorID,
					"start_time", instant.Format(time.RFC3339),
				)
				return held, nil
			}
			e.logger.Info("booking conflict",
				"tutor_id", in.TutorID,
				"start_time", instant.Format(time.RFC3339),
			)
			return model.Booking{}, err
		}
		return model.Booking{}, fmt.Errorf("reserve booking: %w", err)
	}

	e.logger.Info("booking reserved",
		"booking_id", b.ID,
		"tutor_id", b.TutorID,
		"start_time", instant.Format(time.RFC3339),
		"payment_deadline", deadline.Format(time.RFC3339),
	)
	return *b, nil
}

// ConfirmBooking marks a reservation paid. Confirming an already-confirmed
// booking is a no-op success so replayed payment events cannot fail; a
// confirmation arriving after expiry or cancellation is stale and goes to
// reconciliation instead of silently resurrecting the booking.
func (e *Engine) ConfirmBooking(ctx context.Context, id string) (model.Booking, error) {
	now := e.now()
	b, err := e.ledger.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status == model.StatusConfirmed {
		e.logger.Info("duplicate confirmation ignored", "booking_id", id)
		return b, nil
	}

	evt, err := outbox.SessionEvent(outbox.EventSessionConfirmed, b, "")
	if err != nil {
		return model.Booking{}, err
	}
	ok, err := e.ledger.Confirm(ctx, id, now, evt)
	if err != nil {
		return model.Booking{}, fmt.Errorf("confirm booking: %w", err)
	}
	if !ok {
		return e.staleOutcome(ctx, id, "confirm", model.StatusConfirmed)
	}

	e.logger.Info("booking confirmed", "booking_id", id)
	return e.ledger.Get(ctx, id)
}

// CancelBooking cancels a reservation or a confirmed session. Cancelling an
// already-cancelled booking is a no-op success.
func (e *Engine) CancelBooking(ctx context.Context, id, reason string) (model.Booking, error) {
	if strings.TrimSpace(reason) == "" {
		reason = model.ReasonCustomer
	}
	now := e.now()
	b, err := e.ledger.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status == model.StatusCancelled {
		return b, nil
	}

	evt, err := outbox.SessionEvent(outbox.EventSessionCancelled, b, reason)
	if err != nil {
		return model.Booking{}, err
	}
	ok, err := e.ledger.Cancel(ctx, id, reason, now, evt)
	if err != nil {
		return model.Booking{}, fmt.Errorf("cancel booking: %w", err)
	}
	if !ok {
		return e.staleOutcome(ctx, id, "cancel", model.StatusCancelled)
	}

	e.logger.Info("booking cancelled", "booking_id", id, "reason", reason)
	return e.ledger.Get(ctx, id)
}

// ExpireBooking reclaims a reservation whose payment window lapsed. Only
// valid from awaiting_payment with the deadline passed; losing the race to a
// concurrent confirmation is a logged no-op.
func (e *Engine) ExpireBooking(ctx context.Context, id string) error {
	now := e.now()
	b, err := e.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Status == model.StatusCancelled {
		return nil
	}

	evt, err := outbox.SessionEvent(outbox.EventSessionExpired, b, model.ReasonPaymentExpired)
	if err != nil {
		return err
	}
	ok, err := e.ledger.Expire(ctx, id, now, evt)
	if err != nil {
		return fmt.Errorf("expire booking: %w", err)
	}
	if !ok {
		_, err := e.staleOutcome(ctx, id, "expire", model.StatusCancelled)
		return err
	}

	e.logger.Info("booking expired", "booking_id", id)
	return nil
}

// GetAvailability computes the bookable session starts for a tutor across a
// date range by subtracting active ledger entries from the slot catalog.
func (e *Engine) GetAvailability(ctx context.Context, tutorID, fromDate, toDate string) ([]availability.DaySlots, error) {
	tutorID = strings.TrimSpace(tutorID)
	if tutorID == "" {
		return nil, fmt.Errorf("%w: tutor_id is required", ErrValidation)
	}
	from, err := time.ParseInLocation("2006-01-02", fromDate, e.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid from date", ErrValidation)
	}
	to, err := time.ParseInLocation("2006-01-02", toDate, e.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid to date", ErrValidation)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: to before from", ErrValidation)
	}
	if to.Sub(from) > 62*24*time.Hour {
		return nil, fmt.Errorf("%w: date range too wide", ErrValidation)
	}

	exists, err := e.catalog.TutorExists(ctx, tutorID)
	if err != nil {
		return nil, fmt.Errorf("tutor lookup: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: unknown tutor", ErrNotFound)
	}

	templates, err := e.catalog.ListSlots(ctx, tutorID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("list slot templates: %w", err)
	}

	now := e.now()
	rangeEnd := to.AddDate(0, 0, 1)
	active, err := e.ledger.ActiveStarts(ctx, tutorID, from.UTC(), rangeEnd.UTC(), now)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}

	return availability.FreeSlots(templates, active, e.cfg.Location, e.cfg.SessionLength, now), nil
}

func (e *Engine) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	return e.ledger.Get(ctx, id)
}

func (e *Engine) ListBookings(ctx context.Context, q ListQuery) ([]model.Booking, error) {
	if q.TutorID == "" && q.CustomerID == "" {
		return nil, fmt.Errorf("%w: tutor_id or customer_id required", ErrValidation)
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	return e.ledger.List(ctx, q)
}

// SweepExpired expires up to batch lapsed reservations and returns how many
// were reclaimed. Individual failures are logged and skipped so one bad
// record cannot stall the sweep.
func (e *Engine) SweepExpired(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 50
	}
	ids, err := e.ledger.DueForExpiry(ctx, e.now(), batch)
	if err != nil {
		return 0, fmt.Errorf("scan due reservations: %w", err)
	}

	expired := 0
	for _, id := range ids {
		if err := e.ExpireBooking(ctx, id); err != nil {
			if errors.Is(err, ErrStaleTransition) {
				continue
			}
			e.logger.Error("expire failed", "booking_id", id, "err", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// staleOutcome resolves a lost conditional update: re-read the record and
// decide whether the desired state was reached by the competing transition
// (no-op success) or the booking ended up elsewhere (stale, logged for
// reconciliation).
func (e *Engine) staleOutcome(ctx context.Context, id, op string, desired model.Status) (model.Booking, error) {
	b, err := e.ledger.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status == desired {
		return b, nil
	}
	e.logger.Warn("stale transition",
		"booking_id", id,
		"operation", op,
		"status", string(b.Status),
	)
	return b, fmt.Errorf("%w: %s no longer applies (status %s)", ErrStaleTransition, op, b.Status)
}

func (e *Engine) matchesTemplate(instant time.Time, templates []catalog.SlotTemplate) bool {
	date := timeslot.LocalDate(instant, e.cfg.Location)
	for _, tpl := range templates {
		if tpl.Date != date {
			continue
		}
		if timeslot.WithinWindow(instant, e.cfg.Location, tpl.StartMinute, tpl.EndMinute) {
			return true
		}
	}
	return false
}
