// Package reconcile periodically re-checks open checkout sessions against
// Stripe. Webhooks are at-least-once but not guaranteed to arrive while the
// service is up; the reconciler closes the gap after downtime.
package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mfrederiksen/tutorbase/libs/db"
	"github.com/mfrederiksen/tutorbase/services/payment-service/internal/outbox"
	"github.com/mfrederiksen/tutorbase/services/payment-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	stripesession "github.com/stripe/stripe-go/v79/checkout/session"
)

type StripeReconciler struct {
	pool        *db.Pool
	repo        *storage.Repository
	outboxRepo  *outbox.Repository
	logger      *slog.Logger
	stripeKey   string
	minAge      time.Duration
	batchSize   int
	advisoryKey int64
}

type StripeReconcilerConfig struct {
	StripeSecretKey string
	// MinSessionAge keeps freshly created sessions out of reconciliation so
	// the normal webhook path gets first shot.
	MinSessionAge   time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

func NewStripeReconciler(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg StripeReconcilerConfig) *StripeReconciler {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	minAge := cfg.MinSessionAge
	if minAge <= 0 {
		minAge = 10 * time.Minute
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		// Stable-ish default; override via env if you run multiple payment instances.
		lockKey = 8404001
	}
	return &StripeReconciler{
		pool:        pool,
		repo:        repo,
		outboxRepo:  outboxRepo,
		logger:      logger,
		stripeKey:   strings.TrimSpace(cfg.StripeSecretKey),
		minAge:      minAge,
		batchSize:   bs,
		advisoryKey: lockKey,
	}
}

func (r *StripeReconciler) Run(ctx context.Context, interval time.Duration) {
	if r.stripeKey == "" {
		r.logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing")
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Best-effort leader election for multi-instance deployments.
	// Only the instance holding the advisory lock will reconcile.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("stripe reconcile: failed to acquire advisory lock", "err", err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}
		if !locked {
			r.logger.Info("stripe reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			sleepCtx(ctx, 30*time.Second)
			continue
		}
		r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	stripe.Key = r.stripeKey
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.reconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *StripeReconciler) reconcileOnce(ctx context.Context) {
	sessions, err := r.repo.ListOpenCheckoutSessions(ctx, time.Now().Add(-r.minAge), r.batchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list open sessions", "err", err)
		return
	}
	if len(sessions) == 0 {
		return
	}

	for _, s := range sessions {
		if ctx.Err() != nil {
			return
		}
		if s.StripeSessionID == "" || s.BookingID == "" {
			continue
		}

		stripeSess, err := stripesession.Get(s.StripeSessionID, nil)
		if err != nil {
			r.logger.Warn("stripe reconcile: failed to fetch checkout session", "err", err, "stripe_session_id", s.StripeSessionID, "booking_id", s.BookingID)
			continue
		}

		switch stripeSess.Status {
		case stripe.CheckoutSessionStatusComplete:
			if err := r.settle(ctx, s, outbox.EventPaymentSucceeded, "", func(tx pgx.Tx) error {
				return r.repo.MarkCheckoutSessionCompleted(ctx, tx, s.StripeSessionID, time.Now().UTC())
			}); err != nil {
				r.logger.Error("stripe reconcile: failed to settle completed session", "err", err, "stripe_session_id", s.StripeSessionID)
				continue
			}
			r.logger.Info("stripe reconcile: session completed out of band", "stripe_session_id", s.StripeSessionID, "booking_id", s.BookingID)
		case stripe.CheckoutSessionStatusExpired:
			if err := r.settle(ctx, s, outbox.EventPaymentFailed, "payment_expired", func(tx pgx.Tx) error {
				return r.repo.MarkCheckoutSessionExpired(ctx, tx, s.StripeSessionID, time.Now().UTC())
			}); err != nil {
				r.logger.Error("stripe reconcile: failed to settle expired session", "err", err, "stripe_session_id", s.StripeSessionID)
				continue
			}
			r.logger.Info("stripe reconcile: session expired out of band", "stripe_session_id", s.StripeSessionID, "booking_id", s.BookingID)
		default:
			// Still open on Stripe's side; leave it for the next pass.
		}
	}
}

func (r *StripeReconciler) settle(ctx context.Context, s storage.CheckoutSession, eventType, reason string, mark func(pgx.Tx) error) error {
	tx, err := r.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := mark(tx); err != nil {
		return err
	}
	evt, err := outbox.OutcomeEvent(eventType, s.BookingID, s.StripeSessionID, reason, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := r.outboxRepo.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
