// Package storage persists bookings in Postgres. Slot exclusivity is a
// storage-level guarantee: a partial unique index over active statuses on
// (tutor_id, start_time) makes concurrent reservations of the same pair fail
// with a unique violation rather than racing an application check.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mfrederiksen/tutorbase/libs/db"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/engine"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/model"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/outbox"
)

type BookingLedger struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingLedger(pool *db.Pool, ob *outbox.Repository) *BookingLedger {
	return &BookingLedger{pool: pool, outbox: ob}
}

func (r *BookingLedger) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const bookingColumns = `
	id::text, tutor_id, customer_id, customer_name, customer_email,
	start_time, status, payment_deadline, COALESCE(cancel_reason, ''),
	created_at, confirmed_at, cancelled_at`

// Reserve inserts the reservation and its outbox event in one transaction.
// An awaiting-payment row whose deadline already passed does not block the
// pair: it is reclaimed (cancelled) in the same transaction, together with
// its expired event, so rebooking never has to wait for the sweeper. A live
// active row surfaces as engine.ErrSlotUnavailable via the unique index.
func (r *BookingLedger) Reserve(ctx context.Context, b *model.Booking, evt outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var reclaimedID, reclaimedCustomer string
	err = tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancel_reason = 'payment_expired',
			cancelled_at = $3,
			payment_deadline = NULL
		WHERE tutor_id = $1
			AND start_time = $2
			AND status = 'awaiting_payment'
			AND payment_deadline <= $3
		RETURNING id::text, customer_id
	`, b.TutorID, b.StartTime, b.CreatedAt).Scan(&reclaimedID, &reclaimedCustomer)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Nothing lapsed on this pair.
	case err != nil:
		return fmt.Errorf("reclaim lapsed reservation: %w", err)
	default:
		// The reclaimed row will never be seen by the sweeper again, so its
		// terminal event must ride this transaction.
		expired, eerr := outbox.SessionEvent(outbox.EventSessionExpired, model.Booking{
			ID:         reclaimedID,
			TutorID:    b.TutorID,
			CustomerID: reclaimedCustomer,
			StartTime:  b.StartTime,
		}, model.ReasonPaymentExpired)
		if eerr != nil {
			return eerr
		}
		if err := r.outbox.Insert(ctx, tx, expired); err != nil {
			return fmt.Errorf("insert reclaim event: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bookings
			(id, tutor_id, customer_id, customer_name, customer_email, start_time, status, payment_deadline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.TutorID, b.CustomerID, b.CustomerName, b.CustomerEmail, b.StartTime, b.Status, b.PaymentDeadline, b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return engine.ErrSlotUnavailable
		}
		return err
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ActiveBooking returns the booking currently holding the (tutor, instant)
// pair. At most one row can match thanks to uq_bookings_active.
func (r *BookingLedger) ActiveBooking(ctx context.Context, tutorID string, start, now time.Time) (model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tutor_id = $1
			AND start_time = $2
			AND (status = 'confirmed'
				OR (status = 'awaiting_payment' AND payment_deadline > $3))
	`, tutorID, start, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, engine.ErrNotFound
	}
	return b, err
}

func (r *BookingLedger) Get(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, engine.ErrNotFound
	}
	return b, err
}

// Confirm is a compare-and-swap: the row must still await payment with its
// deadline not yet passed. At the exact deadline both Confirm and Expire are
// eligible and the first committed update wins.
func (r *BookingLedger) Confirm(ctx context.Context, id string, now time.Time, evt outbox.Event) (bool, error) {
	return r.transition(ctx, id, evt, `
		UPDATE bookings
		SET status = 'confirmed',
			confirmed_at = $2,
			payment_deadline = NULL
		WHERE id = $1
			AND status = 'awaiting_payment'
			AND payment_deadline >= $2
	`, id, now)
}

func (r *BookingLedger) Cancel(ctx context.Context, id, reason string, now time.Time, evt outbox.Event) (bool, error) {
	return r.transition(ctx, id, evt, `
		UPDATE bookings
		SET status = 'cancelled',
			cancel_reason = $2,
			cancelled_at = $3,
			payment_deadline = NULL
		WHERE id = $1
			AND status IN ('awaiting_payment', 'confirmed')
	`, id, reason, now)
}

func (r *BookingLedger) Expire(ctx context.Context, id string, now time.Time, evt outbox.Event) (bool, error) {
	return r.transition(ctx, id, evt, `
		UPDATE bookings
		SET status = 'cancelled',
			cancel_reason = 'payment_expired',
			cancelled_at = $2,
			payment_deadline = NULL
		WHERE id = $1
			AND status = 'awaiting_payment'
			AND payment_deadline <= $2
	`, id, now)
}

// transition runs a guarded status update and, only when a row actually
// changed, writes the event in the same transaction. A zero-row update means
// the guard failed; the caller resolves whether that is benign.
func (r *BookingLedger) transition(ctx context.Context, id string, evt outbox.Event, query string, args ...any) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.exists(ctx, tx, id)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, engine.ErrNotFound
		}
		return false, nil
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *BookingLedger) ActiveStarts(ctx context.Context, tutorID string, from, to, now time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time
		FROM bookings
		WHERE tutor_id = $1
			AND start_time >= $2
			AND start_time < $3
			AND (status = 'confirmed'
				OR (status = 'awaiting_payment' AND payment_deadline > $4))
		ORDER BY start_time
	`, tutorID, from, to, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		starts = append(starts, t.UTC())
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return starts, nil
}

func (r *BookingLedger) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text
		FROM bookings
		WHERE status = 'awaiting_payment'
			AND payment_deadline <= $1
		ORDER BY payment_deadline
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

func (r *BookingLedger) List(ctx context.Context, q engine.ListQuery) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE ($1 = '' OR tutor_id = $1)
			AND ($2 = '' OR customer_id = $2)
		ORDER BY start_time DESC
		LIMIT $3
	`, q.TutorID, q.CustomerID, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *BookingLedger) exists(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	var found bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&found)
	return found, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (model.Booking, error) {
	var b model.Booking
	var deadline, confirmedAt, cancelledAt *time.Time
	err := row.Scan(
		&b.ID,
		&b.TutorID,
		&b.CustomerID,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.StartTime,
		&b.Status,
		&deadline,
		&b.CancelReason,
		&b.CreatedAt,
		&confirmedAt,
		&cancelledAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.StartTime = b.StartTime.UTC()
	b.PaymentDeadline = deadline
	b.ConfirmedAt = confirmedAt
	b.CancelledAt = cancelledAt
	if !b.Status.Valid() {
		return model.Booking{}, fmt.Errorf("booking %s has unknown status %q", b.ID, b.Status)
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
