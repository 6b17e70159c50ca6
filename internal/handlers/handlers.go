package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-storefront-orderflow/internal/admin"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/go-storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/go-storefront-orderflow/internal/identity"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/tracking"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

// HeaderSessionID identifies the browsing session that owns a cart and checkout.
const HeaderSessionID = "X-Session-Id"

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Carts     cart.Store
	Products  *catalog.Store
	Sessions  *checkout.Sessions
	Orders    *orders.Store
	Carrier   tracking.Carrier
	Editor    *admin.Editor
	Identity  *identity.Provider
	Validator *validatorv10.Validate
}

// Register mounts every route group on r.
func Register(r *gin.Engine, cfg HandlerConfig) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.Use(identity.Middleware(cfg.Identity))

	RegisterAuthRoutes(r, cfg)
	RegisterCartRoutes(r, cfg)
	RegisterCheckoutRoutes(r, cfg)
	RegisterOrdersRoutes(r, cfg)
	RegisterAdminRoutes(r, cfg)
}

// requireSession reads the session header or writes a 400.
func requireSession(c *gin.Context) (string, bool) {
	id := c.GetHeader(HeaderSessionID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_session_id"})
		return "", false
	}
	return id, true
}

// writeError maps domain errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	var (
		ve   validatorv10.ValidationErrors
		cve  *checkout.ValidationError
		code = http.StatusInternalServerError
		body = gin.H{"error": "internal_error", "detail": err.Error()}
	)
	switch {
	case errors.As(err, &cve):
		code, body = http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "step": cve.Step.String(), "fields": cve.Fields}
	case errors.As(err, &ve):
		code, body = http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": validation.FieldErrors(err)}
	case orders.IsThrottled(err):
		c.Header("Retry-After", "1")
		code, body = http.StatusServiceUnavailable, gin.H{"error": "try_again"}
	case errors.Is(err, orders.ErrNotFound):
		code, body = http.StatusNotFound, gin.H{"error": "not_found"}
	case errors.Is(err, orders.ErrVersionConflict):
		code, body = http.StatusConflict, gin.H{"error": "version_conflict"}
	case errors.Is(err, orders.ErrInvalidTransition):
		code, body = http.StatusUnprocessableEntity, gin.H{"error": "invalid_transition", "detail": err.Error()}
	case errors.Is(err, orders.ErrUnknownStatus):
		code, body = http.StatusBadRequest, gin.H{"error": "unknown_status", "detail": err.Error()}
	case errors.Is(err, orders.ErrTooManyItems):
		code, body = http.StatusUnprocessableEntity, gin.H{"error": "too_many_items"}
	case errors.Is(err, admin.ErrUnknownProduct):
		code, body = http.StatusUnprocessableEntity, gin.H{"error": "unknown_product", "detail": err.Error()}
	case errors.Is(err, catalog.ErrNegativePrice):
		code, body = http.StatusBadRequest, gin.H{"error": "negative_price"}
	case errors.Is(err, cart.ErrInvalidQuantity):
		code, body = http.StatusBadRequest, gin.H{"error": "invalid_quantity"}
	case errors.Is(err, checkout.ErrWrongStep):
		code, body = http.StatusConflict, gin.H{"error": "wrong_step"}
	case errors.Is(err, checkout.ErrEmptyCart):
		code, body = http.StatusConflict, gin.H{"error": "empty_cart"}
	case errors.Is(err, checkout.ErrKeyReused):
		code, body = http.StatusConflict, gin.H{"error": "idempotency_key_reused"}
	case errors.Is(err, identity.ErrInvalidCredentials):
		code, body = http.StatusUnauthorized, gin.H{"error": "invalid_credentials"}
	case errors.Is(err, identity.ErrInvalidToken):
		code, body = http.StatusUnauthorized, gin.H{"error": "unauthorized"}
	case errors.Is(err, identity.ErrEmailTaken):
		code, body = http.StatusConflict, gin.H{"error": "email_taken"}
	case errors.Is(err, identity.ErrWeakPassword):
		code, body = http.StatusBadRequest, gin.H{"error": "weak_password", "detail": err.Error()}
	}
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "err", err)
		_ = c.Error(err)
	}
	c.JSON(code, body)
}
