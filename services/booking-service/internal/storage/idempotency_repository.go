package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRecord is the stored outcome of a create-booking request, keyed
// by (customer_id, idempotency_key). Replays return the recorded response
// instead of attempting a second reservation.
type IdempotencyRecord struct {
	CustomerID      string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

// Completed reports whether a response was already recorded for the key.
func (rec IdempotencyRecord) Completed() bool {
	return rec.StatusCode != 0
}

// LockIdempotencyKey claims the key inside tx, serializing concurrent
// requests carrying the same key: the row is selected FOR UPDATE, inserted
// if missing, and re-selected, so a parallel claimant blocks until this
// transaction resolves. The second return reports whether the key existed.
func (r *BookingLedger) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, customerID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, customerID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (customer_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (customer_id, idempotency_key) DO NOTHING
	`, customerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, customerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingLedger) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, customerID, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE customer_id = $1 AND idempotency_key = $2
	`, customerID, key, nullIfEmpty(bookingID), statusCode, response)
	return err
}

func (r *BookingLedger) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, customerID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT customer_id,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE customer_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, customerID, key).Scan(&rec.CustomerID, &rec.IdempotencyKey, &rec.BookingID, &rec.StatusCode, &responseText)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
