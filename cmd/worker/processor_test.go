package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-storefront-orderflow/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

type fixedIssuer struct{ n int }

func (f *fixedIssuer) NewTrackingNumber() string {
	f.n++
	return "TRK00000000000" + string(rune('0'+f.n))
}

func newTestProcessor(t *testing.T) (*Processor, *orders.Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("orders", "order_id", "")
	fake.CreateTable("order_items", "order_id", "item_id")
	store := orders.NewStore(fake, "orders", "order_items", nil)
	p := NewProcessor(store, &fixedIssuer{}, "Standard Shipping", slog.New(slog.NewTextHandler(io.Discard, nil)))
	return p, store, fake
}

func seedOrder(t *testing.T, store *orders.Store, id string, status orders.Status) {
	t.Helper()
	o := orders.Order{
		ID:            id,
		UserID:        "u1",
		Status:        status,
		PaymentStatus: orders.PaymentPending,
		Items: []orders.OrderItem{
			{ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		},
		TotalAmount: decimal.RequireFromString("10.00"),
		CreatedAt:   time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	if err := store.CreateOrder(context.Background(), "", o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func sqsEvent(t *testing.T, evs ...orders.Event) events.SQSEvent {
	t.Helper()
	var out events.SQSEvent
	for i, ev := range evs {
		body, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		out.Records = append(out.Records, events.SQSMessage{MessageId: string(rune('a' + i)), Body: string(body)})
	}
	return out
}

func TestHandle_PlacedMovesToProcessing(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	seedOrder(t, store, "o1", orders.StatusPending)

	ev := sqsEvent(t, orders.Event{Type: orders.EventPlaced, OrderID: "o1"})
	resp, err := p.Handle(context.Background(), ev)
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %v %+v", err, resp)
	}
	o, _ := store.Get(context.Background(), "o1")
	if o.Status != orders.StatusProcessing {
		t.Fatalf("expected processing, got %s", o.Status)
	}

	// redelivery is a no-op
	resp, _ = p.Handle(context.Background(), ev)
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("duplicate event should succeed: %+v", resp)
	}
	o, _ = store.Get(context.Background(), "o1")
	if o.Version != 2 {
		t.Fatalf("duplicate event must not write, version %d", o.Version)
	}
}

func TestHandle_PlacedForDeletedOrder(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	resp, _ := p.Handle(context.Background(), sqsEvent(t, orders.Event{Type: orders.EventPlaced, OrderID: "gone"}))
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("missing order should be dropped: %+v", resp)
	}
}

func TestHandle_ShippedAssignsTrackingOnce(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	seedOrder(t, store, "o1", orders.StatusShipped)

	ev := sqsEvent(t,
		orders.Event{Type: orders.EventStatusChanged, OrderID: "o1", Status: orders.StatusShipped},
		orders.Event{Type: orders.EventStatusChanged, OrderID: "o1", Status: orders.StatusShipped},
	)
	resp, _ := p.Handle(context.Background(), ev)
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %+v", resp)
	}
	o, _ := store.Get(context.Background(), "o1")
	if o.TrackingNumber != "TRK000000000001" || o.Carrier != "Standard Shipping" {
		t.Fatalf("unexpected tracking: %q %q", o.TrackingNumber, o.Carrier)
	}
}

func TestHandle_OtherStatusChangesIgnored(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	seedOrder(t, store, "o1", orders.StatusProcessing)

	resp, _ := p.Handle(context.Background(), sqsEvent(t, orders.Event{Type: orders.EventStatusChanged, OrderID: "o1", Status: orders.StatusCancelled}))
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %+v", resp)
	}
	o, _ := store.Get(context.Background(), "o1")
	if o.TrackingNumber != "" {
		t.Fatalf("cancelled order should not get tracking")
	}
}

func TestHandle_ReportsFailedMessagesOnly(t *testing.T) {
	p, store, fake := newTestProcessor(t)
	seedOrder(t, store, "o1", orders.StatusPending)

	ev := sqsEvent(t, orders.Event{Type: orders.EventPlaced, OrderID: "o1"})
	ev.Records = append(ev.Records, events.SQSMessage{MessageId: "bad", Body: "{not json"})

	resp, _ := p.Handle(context.Background(), ev)
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "bad" {
		t.Fatalf("expected only the malformed message to fail: %+v", resp)
	}

	fake.FailOn("UpdateItem", errors.New("throttled"))
	resp, _ = p.Handle(context.Background(), sqsEvent(t, orders.Event{Type: orders.EventPlaced, OrderID: "o1"}))
	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("store errors should be retried: %+v", resp)
	}
}

func TestMessageContext_ContinuesTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"
	rec := events.SQSMessage{MessageAttributes: map[string]events.SQSMessageAttribute{
		"traceparent": {StringValue: &tp, DataType: "String"},
	}}

	sc := trace.SpanContextFromContext(messageContext(context.Background(), rec))
	if sc.TraceID().String() != "0af7651916cd43dd8448eb211c80319c" || !sc.IsRemote() {
		t.Fatalf("unexpected span context: %+v", sc)
	}
}
