package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
)

const userKey = "user"

// rateLimit admits the request against route's policy for the client IP
// before any handler logic runs.
func (h *Handler) rateLimit(route ratelimit.Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ratelimit.Admit(c.Request.Context(), h.limiter, h.log, route, c.ClientIP()) {
			_, body := toResponse(common.ErrTooManyRequests)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
			return
		}
		c.Next()
	}
}

// authenticated resolves the access token to a user and stores it in the
// gin context under userKey.
func (h *Handler) authenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := h.svc.CurrentUser(c.Request.Context(), accessToken(c))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := services.RequireRole(currentUser(c), roles...); err != nil {
			c.AbortWithStatusJSON(toResponse(err))
			return
		}
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Info(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"client", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}
