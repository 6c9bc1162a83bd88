//go:build protogen

package main

import (
	"log/slog"

	"github.com/mfrederiksen/tutorbase/libs/config"
	"github.com/mfrederiksen/tutorbase/libs/db"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/catalog"
)

func newCatalogProvider(pool *db.Pool, logger *slog.Logger) catalog.Provider {
	addr := config.String("CATALOG_GRPC_ADDR", "catalog-service:9092")
	provider, err := catalog.NewGRPCProvider(addr)
	if err != nil {
		logger.Error("catalog grpc client init failed; falling back to db", "err", err)
		return catalog.NewDBProvider(pool)
	}
	return provider
}
