//go:build !protogen

package main

import (
	"log/slog"

	"github.com/mfrederiksen/tutorbase/libs/db"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/catalog"
)

// Default catalog source: the shared catalog schema, read directly. Builds
// with generated proto stubs (-tags protogen) swap in the gRPC client.
func newCatalogProvider(pool *db.Pool, _ *slog.Logger) catalog.Provider {
	return catalog.NewDBProvider(pool)
}
