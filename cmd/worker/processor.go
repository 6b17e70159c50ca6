package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

const tracerName = "github.com/imrishuroy/go-storefront-orderflow/worker"

// OrderStore is the part of orders.Store the worker needs.
type OrderStore interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, id string, expected, next orders.Status) error
	AssignTracking(ctx context.Context, id, number, carrier string) (bool, error)
}

// TrackingIssuer hands out tracking numbers for shipped orders.
type TrackingIssuer interface {
	NewTrackingNumber() string
}

// Processor handles order lifecycle events from the orders queue.
type Processor struct {
	store   OrderStore
	issuer  TrackingIssuer
	carrier string
	logger  *slog.Logger
}

// NewProcessor creates a processor. carrier is recorded alongside issued tracking numbers.
func NewProcessor(store OrderStore, issuer TrackingIssuer, carrier string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, issuer: issuer, carrier: carrier, logger: logger}
}

// Handle processes a batch and reports the messages that should be retried.
// Successful messages are deleted by the runtime even when others fail.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.handleRecord(ctx, rec); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

// handleRecord processes one message inside a consumer span that continues
// the trace the publisher attached to the message.
func (p *Processor) handleRecord(ctx context.Context, rec events.SQSMessage) error {
	ctx, span := otel.Tracer(tracerName).Start(messageContext(ctx, rec), "orders.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.message.id", rec.MessageId)),
	)
	defer span.End()

	if err := p.processMessage(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.ErrorContext(ctx, "worker error", "message_id", rec.MessageId, "err", err)
		return err
	}
	return nil
}

func messageContext(ctx context.Context, rec events.SQSMessage) context.Context {
	carrier := propagation.MapCarrier{}
	for k, v := range rec.MessageAttributes {
		if v.StringValue != nil {
			carrier[k] = *v.StringValue
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev orders.Event
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	log := p.logger.With("order_id", ev.OrderID, "event_type", ev.Type, "correlation_id", ev.CorrelationID)

	switch ev.Type {
	case orders.EventPlaced:
		return p.startProcessing(ctx, log, ev.OrderID)
	case orders.EventStatusChanged:
		if ev.Status != orders.StatusShipped {
			return nil
		}
		return p.assignTracking(ctx, log, ev.OrderID)
	default:
		log.WarnContext(ctx, "ignoring unknown event")
		return nil
	}
}

// startProcessing moves a freshly placed order from pending to processing.
// Redelivered events find the order already moved on and are dropped.
func (p *Processor) startProcessing(ctx context.Context, log *slog.Logger, orderID string) error {
	err := p.store.UpdateStatus(ctx, orderID, orders.StatusPending, orders.StatusProcessing)
	if err == nil {
		log.InfoContext(ctx, "order processing")
		return nil
	}
	if !errors.Is(err, orders.ErrStatusMismatch) {
		return fmt.Errorf("update status to processing: %w", err)
	}

	o, err := p.store.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}
	if o == nil {
		// deleted by an admin before the worker got to it
		log.WarnContext(ctx, "order no longer exists")
		return nil
	}
	log.InfoContext(ctx, "duplicate placed event", "status", o.Status)
	return nil
}

// assignTracking gives a shipped order its tracking number exactly once.
func (p *Processor) assignTracking(ctx context.Context, log *slog.Logger, orderID string) error {
	number := p.issuer.NewTrackingNumber()
	assigned, err := p.store.AssignTracking(ctx, orderID, number, p.carrier)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		log.WarnContext(ctx, "order no longer exists")
		return nil
	case err != nil:
		return fmt.Errorf("assign tracking: %w", err)
	case !assigned:
		log.InfoContext(ctx, "tracking already assigned")
		return nil
	}
	log.InfoContext(ctx, "tracking assigned", "tracking_number", number, "carrier", p.carrier)
	return nil
}
