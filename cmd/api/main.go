package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/admin"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cache"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/go-storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/go-storefront-orderflow/internal/config"
	"github.com/imrishuroy/go-storefront-orderflow/internal/handlers"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/identity"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/telemetry"
	"github.com/imrishuroy/go-storefront-orderflow/internal/tracking"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

const serviceName = "storefront-api"

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), telemetry.Middleware())
	handlers.Register(r, cfg)
	return r
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := telemetry.InitLogger(cfg.LogLevel)

	shutdown, err := telemetry.SetupTracer(ctx, serviceName, cfg.OTLPEndpoint)
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

	// carts, checkout state and revoked tokens share one cache
	var kv cache.Cache
	switch cfg.CacheBackend {
	case "memory":
		logger.Warn("using in-process cache; run a single instance only")
		kv = cache.NewMemory(serviceName)
	default:
		kv = cache.NewRedisCache(cfg.RedisAddr, serviceName)
	}

	var publisher orders.EventPublisher
	if q := clients.Publisher(cfg.QueueURL); q != nil {
		publisher = orders.NewSQSEventPublisher(q)
	}

	validate := validation.New()
	repo := orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.OrderItemsTable,
		idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL))
	products := catalog.NewStore(clients.DynamoDB, cfg.ProductsTable)
	carts := cart.NewCacheStore(kv, cfg.CartTTL)

	deps := &checkout.Deps{
		Orders:      repo,
		Events:      publisher,
		Metrics:     clients.Metrics(cfg.MetricsNamespace),
		Validate:    validate,
		CurrentUser: identity.UserID,
		Logger:      logger,
	}

	editorOpts := []admin.Option{
		admin.WithStrictTransitions(cfg.StrictStatusTransitions),
		admin.WithLogger(logger),
	}
	if publisher != nil {
		editorOpts = append(editorOpts, admin.WithEvents(publisher))
	}

	r := setupRouter(handlers.HandlerConfig{
		Carts:     carts,
		Products:  products,
		Sessions:  checkout.NewSessions(deps, carts, kv, cfg.CheckoutIdleTTL),
		Orders:    repo,
		Carrier:   tracking.NewStaticCarrier(),
		Editor:    admin.NewEditor(repo, products, validate, editorOpts...),
		Identity:  identity.NewProvider(clients.DynamoDB, cfg.ProfilesTable, []byte(cfg.JWTSecret), cfg.TokenTTL, kv, cfg.AdminEmails),
		Validator: validate,
	})

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		logger.Info("running local server", "addr", cfg.HTTPAddr)
		if err := r.Run(cfg.HTTPAddr); err != nil {
			logger.Error("local server stopped", "err", err)
			os.Exit(1)
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
