package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mfrederiksen/tutorbase/services/payment-service/internal/outbox"
	"github.com/mfrederiksen/tutorbase/services/payment-service/internal/storage"
)

type localWebhookRequest struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"` // payment.succeeded | payment.failed
	BookingID  string `json:"booking_id"`
	Reason     string `json:"reason"`
	OccurredAt string `json:"occurred_at"`
}

// LocalWebhook accepts simulated payment outcomes for development and
// testing without a Stripe account. Same dedupe and outbox path as the real
// webhook, different provider tag.
func (h *Handler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req localWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.EventID = strings.TrimSpace(req.EventID)
	req.Type = strings.TrimSpace(req.Type)
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.OccurredAt = strings.TrimSpace(req.OccurredAt)
	if req.EventID == "" || req.Type == "" || req.BookingID == "" || req.OccurredAt == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	occurredAt, err := time.Parse(time.RFC3339, req.OccurredAt)
	if err != nil {
		http.Error(w, "invalid occurred_at", http.StatusBadRequest)
		return
	}

	var eventType, reason string
	switch req.Type {
	case "payment.succeeded":
		eventType = outbox.EventPaymentSucceeded
	case "payment.failed":
		eventType = outbox.EventPaymentFailed
		reason = strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "payment_failed"
		}
	default:
		http.Error(w, "unsupported type", http.StatusBadRequest)
		return
	}

	h.logger.Info("payment provider event received",
		"provider", "local",
		"provider_event_id", req.EventID,
		"event_type", req.Type,
		"booking_id", req.BookingID,
	)

	payloadRaw, _ := json.Marshal(req)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "local",
		ProviderEventID: req.EventID,
		EventType:       req.Type,
		Payload:         payloadRaw,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("payment provider event duplicate ignored", "provider", "local", "provider_event_id", req.EventID)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	if err := h.emitOutcome(r.Context(), tx, eventType, req.BookingID, "local:"+req.EventID, reason, occurredAt); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
