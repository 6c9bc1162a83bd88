// Package consumer applies payment outcomes to bookings. Payment events are
// consumed from Kafka with inbox dedupe; a successful payment confirms the
// reservation, a failed one cancels it. Stale outcomes (the reservation
// already expired or was cancelled) are logged no-ops, never retried.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mfrederiksen/tutorbase/libs/kafkax"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/engine"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/inbox"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Topics this consumer subscribes to.
const (
	TopicPaymentSucceeded = "payments.payment.succeeded.v1"
	TopicPaymentFailed    = "payments.payment.failed.v1"
)

type PaymentConsumer struct {
	readers []*kafka.Reader
	engine  *engine.Engine
	inbox   *inbox.Repository
	logger  *slog.Logger
}

type Config struct {
	Brokers string
	GroupID string
}

func NewPaymentConsumer(logger *slog.Logger, inboxRepo *inbox.Repository, eng *engine.Engine, cfg Config) *PaymentConsumer {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "booking-service"
	}
	readers := make([]*kafka.Reader, 0, 2)
	for _, topic := range []string{TopicPaymentSucceeded, TopicPaymentFailed} {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}))
	}
	return &PaymentConsumer{
		readers: readers,
		engine:  eng,
		inbox:   inboxRepo,
		logger:  logger,
	}
}

// Run consumes both payment topics until ctx is cancelled. One goroutine per
// topic; kafka-go readers do not support multi-topic subscriptions.
func (c *PaymentConsumer) Run(ctx context.Context) {
	done := make(chan struct{})
	for _, reader := range c.readers {
		go func(r *kafka.Reader) {
			defer func() { done <- struct{}{} }()
			c.consume(ctx, r)
		}(reader)
	}
	for range c.readers {
		<-done
	}
}

func (c *PaymentConsumer) consume(ctx context.Context, reader *kafka.Reader) {
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)

		ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
		if err != nil {
			c.logger.Error("inbox record failed", "err", err)
			span.RecordError(err)
			span.End()
			continue
		}
		if !ok {
			c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			span.End()
			continue
		}

		if err := c.apply(ctxSpan, msg); err != nil {
			c.logger.Error("payment event failed", "err", err, "event_id", meta.EventID, "topic", msg.Topic)
			span.RecordError(err)
		}
		span.End()
	}
}

type paymentEvent struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

func (c *PaymentConsumer) apply(ctx context.Context, msg kafka.Message) error {
	var evt paymentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return err
	}
	if strings.TrimSpace(evt.BookingID) == "" {
		c.logger.Warn("payment event without booking_id", "topic", msg.Topic)
		return nil
	}

	var err error
	switch msg.Topic {
	case TopicPaymentSucceeded:
		_, err = c.engine.ConfirmBooking(ctx, evt.BookingID)
	case TopicPaymentFailed:
		reason := evt.Reason
		if reason == "" {
			reason = model.ReasonPaymentFailed
		}
		_, err = c.engine.CancelBooking(ctx, evt.BookingID, reason)
	default:
		return nil
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrStaleTransition):
		// Already resolved the other way (expired, cancelled); the payment
		// service reconciles refunds from the booking events.
		c.logger.Warn("stale payment outcome",
			"booking_id", evt.BookingID,
			"topic", msg.Topic,
		)
		return nil
	case errors.Is(err, engine.ErrNotFound):
		c.logger.Warn("payment event for unknown booking", "booking_id", evt.BookingID)
		return nil
	default:
		return err
	}
}
