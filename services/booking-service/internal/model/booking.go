package model

import "time"

// Status is the closed set of booking lifecycle states. A booking is created
// in StatusAwaitingPayment and moves to exactly one of the terminal states;
// StatusCompleted is reached post-hoc by back-office tooling, never by the
// booking flow itself.
type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusConfirmed       Status = "confirmed"
	StatusCancelled       Status = "cancelled"
	StatusCompleted       Status = "completed"
)

// Valid reports whether s is a known status value. Repositories use it when
// scanning rows so a bad migration or manual edit surfaces loudly.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s by the
// booking flow.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransition reports whether the state machine permits s -> next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusAwaitingPayment:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled || next == StatusCompleted
	}
	return false
}

// Cancellation reasons recorded on the booking row.
const (
	ReasonPaymentFailed  = "payment_failed"
	ReasonPaymentExpired = "payment_expired"
	ReasonCustomer       = "customer_request"
	ReasonTutor          = "tutor_request"
)

// Booking is one reservation of a tutor for a single session instant.
// StartTime is the canonical UTC instant; the session length is a platform
// constant, so no end time is stored. PaymentDeadline is set while and only
// while the booking awaits payment.
type Booking struct {
	ID              string
	TutorID         string
	CustomerID      string
	CustomerName    string
	CustomerEmail   string
	StartTime       time.Time
	Status          Status
	PaymentDeadline *time.Time
	CancelReason    string
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	CancelledAt     *time.Time
}

// Active reports whether b blocks its (tutor, instant) pair at the given
// time: confirmed, or awaiting payment with a live deadline.
func (b Booking) Active(now time.Time) bool {
	switch b.Status {
	case StatusConfirmed:
		return true
	case StatusAwaitingPayment:
		return b.PaymentDeadline != nil && now.Before(*b.PaymentDeadline)
	}
	return false
}
