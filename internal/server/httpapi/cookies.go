package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
)

// CookieConfig controls the attributes of the session cookies.
type CookieConfig struct {
	Secure   bool
	SameSite string
	Domain   string
	Path     string
}

// CookieManager writes and clears the access and refresh token cookies.
// Both are always HttpOnly.
type CookieManager struct {
	cfg CookieConfig
	now func() time.Time
}

func NewCookieManager(cfg CookieConfig) *CookieManager {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &CookieManager{cfg: cfg, now: time.Now}
}

// SetTokens stores both tokens of pair, each living as long as its token.
func (m *CookieManager) SetTokens(c *gin.Context, pair *tokens.Pair) {
	m.set(c, common.AccessTokenCookieName, pair.AccessToken, pair.AccessExpiresAt)
	m.set(c, common.RefreshTokenCookieName, pair.RefreshToken, pair.RefreshExpiresAt)
}

// Clear expires both session cookies.
func (m *CookieManager) Clear(c *gin.Context) {
	for _, name := range []string{common.AccessTokenCookieName, common.RefreshTokenCookieName} {
		c.SetSameSite(m.sameSite())
		c.SetCookie(name, "", -1, m.cfg.Path, m.cfg.Domain, m.cfg.Secure, true)
	}
}

func (m *CookieManager) set(c *gin.Context, name, value string, expires time.Time) {
	maxAge := int(expires.Sub(m.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	c.SetSameSite(m.sameSite())
	c.SetCookie(name, value, maxAge, m.cfg.Path, m.cfg.Domain, m.cfg.Secure, true)
}

func (m *CookieManager) sameSite() http.SameSite {
	switch strings.ToLower(m.cfg.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// accessToken reads the access token from its cookie or from an
// "Authorization: Bearer" header.
func accessToken(c *gin.Context) string {
	if v, err := c.Cookie(common.AccessTokenCookieName); err == nil && v != "" {
		return v
	}
	return bearerToken(c)
}

// refreshToken reads the refresh token from its cookie, then from a JSON
// body {"refresh_token": "..."}, then from an "Authorization: Bearer"
// header. Only the refresh and logout routes call it.
func refreshToken(c *gin.Context) string {
	if v, err := c.Cookie(common.RefreshTokenCookieName); err == nil && v != "" {
		return v
	}
	if c.ContentType() == gin.MIMEJSON {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
			return req.RefreshToken
		}
	}
	return bearerToken(c)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
