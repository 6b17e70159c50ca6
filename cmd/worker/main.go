package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/config"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/telemetry"
	"github.com/imrishuroy/go-storefront-orderflow/internal/tracking"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		telemetry.InitLogger("info").Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := telemetry.InitLogger(cfg.LogLevel)

	shutdown, err := telemetry.SetupTracer(ctx, "storefront-worker", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to set up tracing", "err", err)
		os.Exit(1)
	}
	defer func() { _ = shutdown(context.Background()) }()

	clients, err := aws.NewClients(ctx)
	if err != nil {
		logger.Error("failed to init aws clients", "err", err)
		os.Exit(1)
	}

	carrier := tracking.NewStaticCarrier()
	p := NewProcessor(
		orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.OrderItemsTable, nil),
		carrier, carrier.Name, logger,
	)

	// RUN_LOCAL=true runs a single event taken from LOCAL_SQS_BODY.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"type":"order.placed","order_id":"local-order-1"}`
		}
		resp, _ := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}})
		if len(resp.BatchItemFailures) > 0 {
			logger.Error("local event failed")
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
