// Package httpapi exposes the session flows over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
)

// Sessions is the slice of services.SessionService the handlers call.
type Sessions interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, *tokens.Pair, error)
	Login(ctx context.Context, email, password string) (*models.User, *tokens.Pair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, accessToken string) (int64, error)
	Refresh(ctx context.Context, refreshToken string) (*tokens.Pair, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error
	ConfirmEmail(ctx context.Context, email, token string) error
	ResendConfirmation(ctx context.Context, accessToken string) error
	CurrentUser(ctx context.Context, accessToken string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	BanUser(ctx context.Context, id int64) (*models.User, error)
}

// Pinger reports database reachability for /health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

const forgotPasswordMessage = "if the account exists, a password reset link has been sent"

type Handler struct {
	svc     Sessions
	cookies *CookieManager
	limiter ratelimit.Limiter
	db      Pinger
	log     logging.Logger
}

func NewHandler(svc Sessions, cookies *CookieManager, limiter ratelimit.Limiter, db Pinger, log logging.Logger) *Handler {
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	return &Handler{svc: svc, cookies: cookies, limiter: limiter, db: db, log: log}
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	user, pair, err := h.svc.Register(c.Request.Context(), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Profile:  req.profile(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	h.cookies.SetTokens(c, pair)
	c.JSON(http.StatusCreated, newSessionResponse(user, pair))
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	user, pair, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.cookies.SetTokens(c, pair)
	c.JSON(http.StatusOK, newSessionResponse(user, pair))
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), refreshToken(c)); err != nil {
		h.fail(c, err)
		return
	}
	h.cookies.Clear(c)
	c.JSON(http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) LogoutAll(c *gin.Context) {
	n, err := h.svc.LogoutAll(c.Request.Context(), accessToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.cookies.Clear(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out from all devices", "revoked": n})
}

func (h *Handler) Refresh(c *gin.Context) {
	pair, err := h.svc.Refresh(c.Request.Context(), refreshToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.cookies.SetTokens(c, pair)
	c.JSON(http.StatusOK, newSessionResponse(nil, pair))
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := h.svc.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: forgotPasswordMessage})
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "password has been reset"})
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), accessToken(c), req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	h.cookies.Clear(c)
	c.JSON(http.StatusOK, messageResponse{Message: "password changed"})
}

func (h *Handler) ConfirmEmail(c *gin.Context) {
	var q confirmEmailQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c)
		return
	}
	if err := h.svc.ConfirmEmail(c.Request.Context(), q.Email, q.Token); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "email confirmed"})
}

func (h *Handler) ResendConfirmation(c *gin.Context) {
	if err := h.svc.ResendConfirmation(c.Request.Context(), accessToken(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "confirmation email sent"})
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, newUserResponse(currentUser(c)))
}

func (h *Handler) ListUsers(c *gin.Context) {
	var q listUsersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c)
		return
	}
	users, err := h.svc.ListUsers(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) FindUserByEmail(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	u, err := h.svc.FindUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(u))
}

func (h *Handler) BanUser(c *gin.Context) {
	var p userIDParam
	if err := c.ShouldBindUri(&p); err != nil {
		badRequest(c)
		return
	}
	u, err := h.svc.BanUser(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(u))
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		h.log.Error(c.Request.Context(), "health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var _ Sessions = (*services.SessionService)(nil)

func currentUser(c *gin.Context) *models.User {
	v, _ := c.Get(userKey)
	u, _ := v.(*models.User)
	return u
}
