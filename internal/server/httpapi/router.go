package httpapi

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/ratelimit"
)

// NewRouter builds the gin engine with every route registered.
//
// Client addresses used for rate limiting are taken from X-Forwarded-For
// and X-Real-IP only when the peer is one of trustedProxies (IPs or
// CIDRs). With none configured the socket address is used.
func NewRouter(h *Handler, trustedProxies []string) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/health", h.Health)

	a := r.Group("/auth")
	a.POST("/register", h.rateLimit(ratelimit.RouteRegister), h.Register)
	a.POST("/login", h.rateLimit(ratelimit.RouteLogin), h.Login)
	a.POST("/logout", h.rateLimit(ratelimit.RouteLogout), h.Logout)
	a.POST("/logout-all", h.rateLimit(ratelimit.RouteLogout), h.LogoutAll)
	a.POST("/refresh", h.rateLimit(ratelimit.RouteRefresh), h.Refresh)
	a.POST("/forgot-password", h.rateLimit(ratelimit.RouteForgotPassword), h.ForgotPassword)
	a.POST("/reset-password", h.rateLimit(ratelimit.RouteResetPassword), h.ResetPassword)
	a.POST("/change-password", h.rateLimit(ratelimit.RouteResetPassword), h.ChangePassword)

	e := r.Group("/email")
	e.GET("/confirm", h.rateLimit(ratelimit.RouteConfirmEmail), h.ConfirmEmail)
	e.POST("/resend", h.rateLimit(ratelimit.RouteResendConfirmation), h.ResendConfirmation)

	u := r.Group("/users", h.authenticated())
	u.GET("/me", h.Me)

	admin := u.Group("", requireRole(common.RoleAdmin))
	admin.GET("", h.ListUsers)
	admin.POST("/find-by-email", h.FindUserByEmail)
	admin.POST("/:id/ban", h.BanUser)

	return r, nil
}
