package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mfrederiksen/tutorbase/services/payment-service/internal/outbox"
	"github.com/mfrederiksen/tutorbase/services/payment-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification
// is the auth). Gateway should expose this path publicly.
//
// Outcomes become outbox events in the same transaction as the dedupe
// record, so a crash between webhook receipt and Kafka publish cannot lose
// or double-emit a payment result.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("payment provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		bookingID := strings.TrimSpace(session.Metadata["booking_id"])
		if bookingID == "" {
			h.logger.Warn("stripe: checkout session without booking_id metadata", "session_id", session.ID)
			break
		}
		if err := h.repo.MarkCheckoutSessionCompleted(r.Context(), tx, session.ID, occurredAt); err != nil {
			http.Error(w, "failed to update checkout session", http.StatusInternalServerError)
			return
		}
		if err := h.emitOutcome(r.Context(), tx, outbox.EventPaymentSucceeded, bookingID, session.ID, "", occurredAt); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		bookingID := strings.TrimSpace(session.Metadata["booking_id"])
		if err := h.repo.MarkCheckoutSessionExpired(r.Context(), tx, session.ID, occurredAt); err != nil {
			http.Error(w, "failed to update checkout session", http.StatusInternalServerError)
			return
		}
		if bookingID != "" {
			if err := h.emitOutcome(r.Context(), tx, outbox.EventPaymentFailed, bookingID, session.ID, "payment_expired", occurredAt); err != nil {
				http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
				return
			}
		}

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		bookingID := strings.TrimSpace(intent.Metadata["booking_id"])
		if bookingID == "" {
			// Checkout-created intents carry no metadata; the session
			// expiry path covers those bookings.
			break
		}
		if err := h.emitOutcome(r.Context(), tx, outbox.EventPaymentFailed, bookingID, intent.ID, "payment_failed", occurredAt); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}

	default:
		h.logger.Info("stripe event ignored", "event_type", evtType)
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) emitOutcome(ctx context.Context, tx pgx.Tx, eventType, bookingID, paymentID, reason string, occurredAt time.Time) error {
	evt, err := outbox.OutcomeEvent(eventType, bookingID, paymentID, reason, occurredAt)
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, evt)
}
