package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

type cartView struct {
	Items     []cart.Item     `json:"items"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

func viewCart(c *cart.Cart) cartView {
	return cartView{Items: c.Items(), Total: c.Total(), ItemCount: c.ItemCount()}
}

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// RegisterCartRoutes registers the session cart routes.
func RegisterCartRoutes(r *gin.Engine, cfg HandlerConfig) {
	g := r.Group("/cart")

	open := func(c *gin.Context) (*cart.Cart, bool) {
		sessionID, ok := requireSession(c)
		if !ok {
			return nil, false
		}
		crt, err := cart.Open(c.Request.Context(), cfg.Carts, sessionID)
		if err != nil {
			writeError(c, err)
			return nil, false
		}
		return crt, true
	}

	g.GET("", func(c *gin.Context) {
		crt, ok := open(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, viewCart(crt))
	})

	g.POST("/items", func(c *gin.Context) {
		crt, ok := open(c)
		if !ok {
			return
		}
		var req addItemRequest
		if validation.BindAndValidate(c, &req, nil) != nil {
			return
		}
		if req.Quantity == 0 {
			req.Quantity = 1
		}
		p, err := cfg.Products.Get(c.Request.Context(), req.ProductID)
		if err != nil {
			writeError(c, err)
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_product"})
			return
		}
		if !p.InStock {
			c.JSON(http.StatusConflict, gin.H{"error": "out_of_stock"})
			return
		}
		if err := crt.Add(c.Request.Context(), *p, req.Quantity); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewCart(crt))
	})

	g.PATCH("/items/:product_id", func(c *gin.Context) {
		crt, ok := open(c)
		if !ok {
			return
		}
		var req quantityRequest
		if validation.BindAndValidate(c, &req, nil) != nil {
			return
		}
		if err := crt.UpdateQuantity(c.Request.Context(), c.Param("product_id"), req.Quantity); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewCart(crt))
	})

	g.DELETE("/items/:product_id", func(c *gin.Context) {
		crt, ok := open(c)
		if !ok {
			return
		}
		if err := crt.Remove(c.Request.Context(), c.Param("product_id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewCart(crt))
	})

	g.DELETE("", func(c *gin.Context) {
		crt, ok := open(c)
		if !ok {
			return
		}
		if err := crt.Clear(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewCart(crt))
	})
}
