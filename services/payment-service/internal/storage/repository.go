// Package storage persists checkout sessions and the provider-event
// dedupe table. Stripe redelivers webhooks at-least-once; recording the
// provider event id with ON CONFLICT DO NOTHING in the webhook transaction
// makes every replay a no-op.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mfrederiksen/tutorbase/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type CheckoutSession struct {
	StripeSessionID string
	BookingID       string
	CustomerID      string
	AmountCents     int64
	Currency        string
	Status          string
	URL             string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	ExpiredAt       *time.Time
}

func (r *Repository) UpsertCheckoutSession(ctx context.Context, tx pgx.Tx, s CheckoutSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkout_sessions (stripe_session_id, booking_id, customer_id, amount_cents, currency, status, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_session_id)
		DO UPDATE SET status = EXCLUDED.status,
		              url = EXCLUDED.url,
		              updated_at = now()
	`, s.StripeSessionID, s.BookingID, s.CustomerID, s.AmountCents, s.Currency, s.Status, nullIfEmpty(s.URL))
	return err
}

func (r *Repository) MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, stripeSessionID string, completedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed',
			completed_at = $2,
			updated_at = now()
		WHERE stripe_session_id = $1
	`, stripeSessionID, completedAt)
	return err
}

func (r *Repository) MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, stripeSessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired',
			expired_at = $2,
			updated_at = now()
		WHERE stripe_session_id = $1
	`, stripeSessionID, expiredAt)
	return err
}

func (r *Repository) GetCheckoutSessionByBooking(ctx context.Context, bookingID string) (CheckoutSession, error) {
	var s CheckoutSession
	var completedAt, expiredAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT stripe_session_id, booking_id::text, customer_id, amount_cents, currency, status,
		       COALESCE(url, ''), created_at, updated_at, completed_at, expired_at
		FROM checkout_sessions
		WHERE booking_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, bookingID).Scan(&s.StripeSessionID, &s.BookingID, &s.CustomerID, &s.AmountCents, &s.Currency,
		&s.Status, &s.URL, &s.CreatedAt, &s.UpdatedAt, &completedAt, &expiredAt)
	if err != nil {
		return CheckoutSession{}, err
	}
	s.CompletedAt = completedAt
	s.ExpiredAt = expiredAt
	return s, nil
}

// ListOpenCheckoutSessions returns sessions still marked open that were
// created before the cutoff, oldest first. Used by the reconciler to catch
// outcomes whose webhooks never arrived.
func (r *Repository) ListOpenCheckoutSessions(ctx context.Context, createdBefore time.Time, limit int) ([]CheckoutSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT stripe_session_id, booking_id::text, customer_id, amount_cents, currency, status,
		       COALESCE(url, ''), created_at, updated_at, completed_at, expired_at
		FROM checkout_sessions
		WHERE status = 'open' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckoutSession
	for rows.Next() {
		var s CheckoutSession
		if err := rows.Scan(&s.StripeSessionID, &s.BookingID, &s.CustomerID, &s.AmountCents, &s.Currency,
			&s.Status, &s.URL, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt, &s.ExpiredAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		// keep raw JSON error as a hard failure: webhook should be well-formed.
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO payment_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
