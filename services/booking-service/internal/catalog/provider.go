package catalog

import (
	"context"
)

// SlotTemplate is a tutor-published availability window for one calendar
// date. Times of day are stored as minutes since local midnight in the
// platform timezone. Templates carry no booking state; whether a slot is
// actually bookable is derived from the booking ledger at query time.
type SlotTemplate struct {
	ID          string
	TutorID     string
	Date        string // YYYY-MM-DD, platform-local
	StartMinute int
	EndMinute   int
}

// Provider is the read-side view of the slot catalog. The default provider
// reads catalog-service's tables directly; a gRPC-backed provider exists for
// deployments where the catalog runs against its own database.
type Provider interface {
	// ListSlots returns the templates for one tutor with Date in
	// [fromDate, toDate], ordered by date then start.
	ListSlots(ctx context.Context, tutorID, fromDate, toDate string) ([]SlotTemplate, error)

	// TutorExists reports whether any template was ever published by the
	// tutor. Used to distinguish "unknown tutor" from "no availability".
	TutorExists(ctx context.Context, tutorID string) (bool, error)
}
