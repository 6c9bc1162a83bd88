package main

import (
	"context"
	"net/http"
	"time"

	"github.com/mfrederiksen/tutorbase/libs/config"
	"github.com/mfrederiksen/tutorbase/libs/db"
	"github.com/mfrederiksen/tutorbase/libs/httpx"
	"github.com/mfrederiksen/tutorbase/libs/kafkax"
	otelx "github.com/mfrederiksen/tutorbase/libs/otel"
	"github.com/mfrederiksen/tutorbase/libs/runtime"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/cleanup"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/consumer"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/engine"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/handlers"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/inbox"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/outbox"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	zone := config.String("PLATFORM_TIMEZONE", "Europe/Copenhagen")
	loc, err := time.LoadLocation(zone)
	if err != nil {
		logger.Error("invalid platform timezone", "zone", zone, "err", err)
		panic(err)
	}

	outboxRepo := outbox.NewRepository(pool)
	ledger := storage.NewBookingLedger(pool, outboxRepo)
	catalogProvider := newCatalogProvider(pool, logger)

	eng := engine.New(ledger, catalogProvider, logger, engine.Config{
		Location:      loc,
		SessionLength: config.DurationMinutes("SESSION_LENGTH_MINUTES", 60*time.Minute),
		PaymentWindow: config.DurationMinutes("PAYMENT_WINDOW_MINUTES", 15*time.Minute),
		AlignMinutes:  config.Int("BOOKING_GRID_MINUTES", 60),
		OpenHour:      config.Int("BUSINESS_OPEN_HOUR", 8),
		CloseHour:     config.Int("BUSINESS_CLOSE_HOUR", 22),
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	paymentConsumer := consumer.NewPaymentConsumer(logger, inboxRepo, eng, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
	})
	go paymentConsumer.Run(ctx)

	sweeper := cleanup.NewSweeper(pool, eng, logger, cleanup.Config{
		BatchSize:       config.Int("CLEANUP_BATCH_SIZE", 50),
		AdvisoryLockKey: int64(config.Int("CLEANUP_LOCK_KEY", 0)),
	})
	go sweeper.Run(ctx, config.DurationMinutes("CLEANUP_INTERVAL_MINUTES", time.Minute))

	bookingHandler := handlers.NewBookingHandler(eng, ledger, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/availability", bookingHandler.Availability)
	mux.HandleFunc("/api/v1/public/bookings", bookingHandler.Create)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.List)
	mux.HandleFunc("/api/v1/bookings/get", bookingHandler.Get)
	mux.HandleFunc("/api/v1/bookings/confirm", bookingHandler.Confirm)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingHandler.Cancel)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
