package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/identity"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/tracking"
)

// RegisterOrdersRoutes registers the signed-in customer's order history and tracking routes.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	g := r.Group("/orders", identity.RequireUser())

	// own loads an order visible to the current user; others' orders are reported missing.
	own := func(c *gin.Context) (*orders.Order, bool) {
		u, _ := identity.CurrentUser(c.Request.Context())
		o, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return nil, false
		}
		if o == nil || (o.UserID != u.ID && !u.IsAdmin()) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return nil, false
		}
		return o, true
	}

	g.GET("", func(c *gin.Context) {
		u, _ := identity.CurrentUser(c.Request.Context())
		list, err := cfg.Orders.List(c.Request.Context(), orders.ListFilter{UserID: u.ID})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	g.GET("/:id", func(c *gin.Context) {
		o, ok := own(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, o)
	})

	g.GET("/:id/tracking", func(c *gin.Context) {
		o, ok := own(c)
		if !ok {
			return
		}
		info, err := tracking.Track(c.Request.Context(), cfg.Carrier, *o)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})
}
