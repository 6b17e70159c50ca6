package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/admin"
	"github.com/imrishuroy/go-storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/go-storefront-orderflow/internal/identity"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

// RegisterAdminRoutes registers the back-office routes. All of them require the admin role.
func RegisterAdminRoutes(r *gin.Engine, cfg HandlerConfig) {
	g := r.Group("/admin", identity.RequireAdmin())

	g.GET("/orders", func(c *gin.Context) {
		list, err := cfg.Editor.List(c.Request.Context(), orders.ListFilter{UserID: c.Query("user_id")})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	g.GET("/orders/:id", func(c *gin.Context) {
		d, err := cfg.Editor.Load(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	g.PUT("/orders/:id", func(c *gin.Context) {
		d := admin.Draft{OrderID: c.Param("id")}
		if validation.BindAndValidate(c, &d, cfg.Validator) != nil {
			return
		}
		d.OrderID = c.Param("id")
		o, err := cfg.Editor.Save(c.Request.Context(), d)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	g.DELETE("/orders/:id", func(c *gin.Context) {
		if err := cfg.Editor.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.PUT("/products/:id", func(c *gin.Context) {
		p := catalog.Product{ID: c.Param("id")}
		if validation.BindAndValidate(c, &p, cfg.Validator) != nil {
			return
		}
		p.ID = c.Param("id")
		if err := cfg.Products.Put(c.Request.Context(), p); err != nil {
			writeError(c, err)
			return
		}
		stored, err := cfg.Products.Get(c.Request.Context(), p.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, stored)
	})
}
