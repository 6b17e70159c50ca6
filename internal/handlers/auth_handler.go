package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/identity"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

type credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterAuthRoutes registers sign-up, sign-in, sign-out and current-user routes.
func RegisterAuthRoutes(r *gin.Engine, cfg HandlerConfig) {
	g := r.Group("/auth")

	g.POST("/signup", func(c *gin.Context) {
		var req credentials
		if validation.BindAndValidate(c, &req, cfg.Validator) != nil {
			return
		}
		s, err := cfg.Identity.SignUp(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, s)
	})

	g.POST("/signin", func(c *gin.Context) {
		var req credentials
		if validation.BindAndValidate(c, &req, nil) != nil {
			return
		}
		s, err := cfg.Identity.SignIn(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	})

	g.POST("/signout", identity.RequireUser(), func(c *gin.Context) {
		if err := cfg.Identity.SignOut(c.Request.Context(), identity.BearerToken(c.Request)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.GET("/me", identity.RequireUser(), func(c *gin.Context) {
		u, _ := identity.CurrentUser(c.Request.Context())
		c.JSON(http.StatusOK, u)
	})
}
