package engine

import "errors"

// Error kinds surfaced by the engine. Handlers and consumers match these
// with errors.Is; anything else is an infrastructure failure.
var (
	// ErrValidation covers malformed or policy-violating input: unparsable
	// times, instants in the past, outside business hours, off the booking grid.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers unknown tutors, bookings, or a requested time not
	// covered by any published slot template.
	ErrNotFound = errors.New("not found")

	// ErrSlotUnavailable means a concurrent or prior booking already holds
	// the (tutor, instant) pair. Retrying the same instant will fail
	// identically; callers should re-query availability.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrStaleTransition means the requested state transition no longer
	// applies because a competing transition landed first. Logged for
	// reconciliation; external callers see it as a successful no-op.
	ErrStaleTransition = errors.New("stale transition")
)
