// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the api and worker binaries need.
type Config struct {
	RunLocal bool
	HTTPAddr string
	LogLevel string

	OrdersTable      string
	OrderItemsTable  string
	IdempotencyTable string
	ProductsTable    string
	ProfilesTable    string
	QueueURL         string

	// CacheBackend is "redis" or "memory". Memory keeps carts and checkout
	// state in process and is only correct for a single instance.
	CacheBackend string
	RedisAddr    string
	CartTTL      time.Duration

	JWTSecret   string
	TokenTTL    time.Duration
	AdminEmails []string

	CheckoutIdleTTL time.Duration

	MetricsNamespace        string
	StrictStatusTransitions bool
	IdempotencyTTL          time.Duration

	OTLPEndpoint string
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// a missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := Config{
		RunLocal:         os.Getenv("RUN_LOCAL") == "true",
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		OrdersTable:      getEnv("ORDERS_TABLE", "orders"),
		OrderItemsTable:  getEnv("ORDER_ITEMS_TABLE", "order_items"),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		ProductsTable:    getEnv("PRODUCTS_TABLE", "products"),
		ProfilesTable:    getEnv("PROFILES_TABLE", "profiles"),
		QueueURL:         os.Getenv("ORDERS_QUEUE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "Storefront/Checkout"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminEmails:      getList("ADMIN_EMAILS"),
	}

	var err error
	if cfg.CartTTL, err = getDuration("CART_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 72*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 48*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.CheckoutIdleTTL, err = getDuration("CHECKOUT_IDLE_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.StrictStatusTransitions, err = getBool("STRICT_STATUS_TRANSITIONS", true); err != nil {
		return Config{}, err
	}

	defaultBackend := "redis"
	if cfg.RunLocal && cfg.RedisAddr == "" {
		defaultBackend = "memory"
	}
	switch cfg.CacheBackend = getEnv("CACHE_BACKEND", defaultBackend); cfg.CacheBackend {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
		}
	default:
		return Config{}, fmt.Errorf("invalid CACHE_BACKEND %q: want redis or memory", cfg.CacheBackend)
	}

	if cfg.JWTSecret == "" {
		if !cfg.RunLocal {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
		cfg.JWTSecret = "local-development-secret"
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

// getList splits a comma separated variable, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
