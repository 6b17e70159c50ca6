package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/payment"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

var stepsByName = map[string]checkout.Step{
	"shipping": checkout.StepShipping,
	"billing":  checkout.StepBilling,
	"payment":  checkout.StepPayment,
	"review":   checkout.StepReview,
}

type sameAsShippingRequest struct {
	Enabled bool `json:"enabled"`
}

// RegisterCheckoutRoutes registers the checkout workflow routes. Every route
// answers with the current view of the workflow.
func RegisterCheckoutRoutes(r *gin.Engine, cfg HandlerConfig) {
	g := r.Group("/checkout")

	workflow := func(c *gin.Context) (string, *checkout.Workflow, bool) {
		sessionID, ok := requireSession(c)
		if !ok {
			return "", nil, false
		}
		wf, err := cfg.Sessions.Get(c.Request.Context(), sessionID)
		if err != nil {
			writeError(c, err)
			return "", nil, false
		}
		return sessionID, wf, true
	}

	// step wraps a workflow mutation, saves the workflow and replies with
	// the resulting view.
	step := func(fn func(c *gin.Context, wf *checkout.Workflow) error) gin.HandlerFunc {
		return func(c *gin.Context) {
			sessionID, wf, ok := workflow(c)
			if !ok {
				return
			}
			err := fn(c, wf)
			if saveErr := cfg.Sessions.Save(c.Request.Context(), sessionID, wf); saveErr != nil && err == nil {
				err = saveErr
			}
			if err != nil {
				if !c.Writer.Written() {
					writeError(c, err)
				}
				return
			}
			c.JSON(http.StatusOK, wf.View())
		}
	}

	g.GET("", step(func(c *gin.Context, wf *checkout.Workflow) error { return nil }))

	g.PUT("/shipping", step(func(c *gin.Context, wf *checkout.Workflow) error {
		var a orders.Address
		if validation.BindAndValidate(c, &a, nil) != nil {
			return errBodyWritten
		}
		return wf.SetShipping(a)
	}))

	g.PUT("/billing", step(func(c *gin.Context, wf *checkout.Workflow) error {
		var a orders.Address
		if validation.BindAndValidate(c, &a, nil) != nil {
			return errBodyWritten
		}
		return wf.SetBilling(a)
	}))

	g.PUT("/same-as-shipping", step(func(c *gin.Context, wf *checkout.Workflow) error {
		var req sameAsShippingRequest
		if validation.BindAndValidate(c, &req, nil) != nil {
			return errBodyWritten
		}
		return wf.SetSameAsShipping(req.Enabled)
	}))

	g.PUT("/payment", step(func(c *gin.Context, wf *checkout.Workflow) error {
		var d payment.Details
		if validation.BindAndValidate(c, &d, nil) != nil {
			return errBodyWritten
		}
		return wf.SetPayment(d)
	}))

	g.POST("/next", step(func(c *gin.Context, wf *checkout.Workflow) error {
		return wf.Next(c.Request.Context())
	}))

	g.POST("/back", step(func(c *gin.Context, wf *checkout.Workflow) error {
		return wf.Back()
	}))

	g.POST("/goto/:step", step(func(c *gin.Context, wf *checkout.Workflow) error {
		target, ok := stepsByName[c.Param("step")]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_step"})
			return errBodyWritten
		}
		return wf.GoTo(target)
	}))

	g.POST("/reset", step(func(c *gin.Context, wf *checkout.Workflow) error {
		wf.Reset()
		return nil
	}))

	g.POST("/place-order", func(c *gin.Context) {
		ctx := c.Request.Context()
		sessionID, wf, ok := workflow(c)
		if !ok {
			return
		}
		if key := c.GetHeader("Idempotency-Key"); key != "" {
			wf.SetIdempotencyKey(key)
		}
		// Card details may come with the order when the instance serving it
		// did not receive the payment step.
		if c.Request.ContentLength > 0 {
			var d payment.Details
			if validation.BindAndValidate(c, &d, nil) != nil {
				return
			}
			if err := wf.SetPayment(d); err != nil {
				writeError(c, err)
				return
			}
		}

		conf, err := wf.PlaceOrder(ctx)
		if saveErr := cfg.Sessions.Save(ctx, sessionID, wf); saveErr != nil {
			slog.WarnContext(ctx, "checkout state not saved", "session_id", sessionID, "err", saveErr)
		}
		switch {
		case errors.Is(err, checkout.ErrAlreadySubmitted):
			c.JSON(http.StatusOK, conf)
		case err != nil:
			var cve *checkout.ValidationError
			if errors.As(err, &cve) || errors.Is(err, checkout.ErrWrongStep) ||
				errors.Is(err, checkout.ErrEmptyCart) || errors.Is(err, checkout.ErrKeyReused) {
				writeError(c, err)
				return
			}
			// the workflow stays at review; the shopper may retry
			c.JSON(http.StatusBadGateway, gin.H{"error": "order_failed", "detail": wf.LastError()})
		default:
			c.Header("Location", "/orders/"+conf.OrderID)
			c.JSON(http.StatusCreated, conf)
		}
	})
}

// errBodyWritten signals that a response was already written.
var errBodyWritten = errors.New("response already written")
