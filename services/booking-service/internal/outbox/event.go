package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/model"
)

// Event is the domain event envelope written to the outbox table in the same
// transaction as the state change it describes. The Kafka topic name equals
// EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Booking lifecycle event types published by this service.
const (
	EventSessionReserved  = "booking.session.reserved.v1"
	EventSessionConfirmed = "booking.session.confirmed.v1"
	EventSessionCancelled = "booking.session.cancelled.v1"
	EventSessionExpired   = "booking.session.expired.v1"
)

// SessionEvent builds a booking lifecycle event. Both the engine and the
// ledger's inline reclaim use it, so every status change carries the same
// payload shape.
func SessionEvent(eventType string, b model.Booking, reason string) (Event, error) {
	fields := map[string]any{
		"booking_id":  b.ID,
		"tutor_id":    b.TutorID,
		"customer_id": b.CustomerID,
		"start_time":  b.StartTime.UTC().Format(time.RFC3339),
	}
	if b.PaymentDeadline != nil {
		fields["payment_deadline"] = b.PaymentDeadline.UTC().Format(time.RFC3339)
	}
	if reason != "" {
		fields["reason"] = reason
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return Event{}, fmt.Errorf("build event payload: %w", err)
	}
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
