package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/storefront/internal/order/domain"
	"github.com/dmehra2102/storefront/pkg/tracing"
)

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Deduper remembers processed message offsets.
type Deduper interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
}

type PaymentApplier interface {
	ApplyPayment(ctx context.Context, orderID, userID string, ps domain.PaymentStatus) (domain.Order, error)
}

// PaymentEvent is published by the payment service once a charge settles.
type PaymentEvent struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Status  string `json:"status"`
}

// PaymentConsumer applies payment outcomes to orders.
type PaymentConsumer struct {
	log    *slog.Logger
	reader reader
	svc    PaymentApplier
	idem   Deduper
	tracer trace.Tracer
}

func NewPaymentConsumer(log *slog.Logger, brokers []string, topic, group string, svc PaymentApplier, idem Deduper) *PaymentConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return newPaymentConsumer(log, r, svc, idem)
}

func newPaymentConsumer(log *slog.Logger, r reader, svc PaymentApplier, idem Deduper) *PaymentConsumer {
	return &PaymentConsumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("payment-consumer"),
	}
}

// Run consumes until ctx is cancelled. Every message is committed once
// handled, including ones that could not be applied.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		}
	}
}

func (c *PaymentConsumer) handle(ctx context.Context, msg kafka.Message) {
	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		c.log.Error("idempotency check failed", "err", err)
		return
	}
	if seen {
		c.log.Info("duplicate message skipped", "key", key)
		return
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentEvent")
	defer span.End()

	var ev PaymentEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal failed", "err", err)
		return
	}
	span.SetAttributes(attribute.String("order.id", ev.OrderID))

	ps, err := domain.ParsePaymentStatus(ev.Status)
	if err != nil || ev.OrderID == "" || ev.UserID == "" {
		c.log.Error("invalid payment event", "order_id", ev.OrderID, "status", ev.Status)
		return
	}
	if _, err := c.svc.ApplyPayment(msgCtx, ev.OrderID, ev.UserID, ps); err != nil {
		span.RecordError(err)
		c.log.Error("apply payment failed", "order_id", ev.OrderID, "err", err)
		return
	}
	c.log.Info("payment applied", "order_id", ev.OrderID, "status", ps)
}
