package outbox

import (
	"encoding/json"
	"time"
)

// Event is the payment event envelope written to the outbox table in the
// same transaction as the webhook side effects. The Kafka topic name equals
// EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Payment outcome event types published by this service. booking-service
// consumes both to confirm or cancel the reservation.
const (
	EventPaymentSucceeded = "payments.payment.succeeded.v1"
	EventPaymentFailed    = "payments.payment.failed.v1"
)

// OutcomeEvent builds the payment outcome envelope consumed by
// booking-service. reason is only set on failures.
func OutcomeEvent(eventType, bookingID, paymentID, reason string, occurredAt time.Time) (Event, error) {
	fields := map[string]any{
		"booking_id":  bookingID,
		"payment_id":  paymentID,
		"occurred_at": occurredAt.Format(time.RFC3339),
	}
	if reason != "" {
		fields["reason"] = reason
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "payment",
		AggregateID:   bookingID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
