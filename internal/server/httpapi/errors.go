package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwords"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable is matched in order. Messages come from the sentinel, never
// from the wrapped chain, so causes stay in the logs.
var errorTable = []errorMapping{
	{common.ErrInvalidEmail, http.StatusBadRequest, "INVALID_EMAIL"},
	{common.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{common.ErrRefreshTokenNotFound, http.StatusUnauthorized, "REFRESH_TOKEN_NOT_FOUND"},
	{common.ErrInvalidRefreshToken, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN"},
	{common.ErrAccessTokenNotFound, http.StatusUnauthorized, "ACCESS_TOKEN_NOT_FOUND"},
	{common.ErrInvalidAccessToken, http.StatusUnauthorized, "INVALID_ACCESS_TOKEN"},
	{common.ErrInvalidResetToken, http.StatusBadRequest, "INVALID_RESET_TOKEN"},
	{common.ErrInvalidConfirmationToken, http.StatusBadRequest, "INVALID_CONFIRMATION_TOKEN"},
	{common.ErrorForbidden, http.StatusForbidden, "FORBIDDEN"},
	{common.ErrUserAlreadyExists, http.StatusConflict, "USER_ALREADY_EXISTS"},
	{common.ErrEmailAlreadyConfirmed, http.StatusConflict, "EMAIL_ALREADY_CONFIRMED"},
	{common.ErrPasswordIdenticalToPrevious, http.StatusConflict, "PASSWORD_IDENTICAL_TO_PREVIOUS"},
	{common.ErrTooEarlyResend, http.StatusTooManyRequests, "TOO_EARLY_RESEND"},
	{common.ErrTooManyRequests, http.StatusTooManyRequests, "TOO_MANY_REQUESTS"},
	{common.ErrorNotFound, http.StatusNotFound, "NOT_FOUND"},
}

// toResponse maps err to a status and body. Unknown errors become a
// generic 500.
func toResponse(err error) (int, ErrorResponse) {
	var verr *passwords.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, ErrorResponse{
			Code:    "PASSWORD_VALIDATION",
			Message: common.ErrPasswordValidation.Error(),
			Details: verr.Reasons,
		}
	}
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, ErrorResponse{Code: m.code, Message: m.target.Error()}
		}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: common.ErrorInternal.Error()}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, body := toResponse(err)
	if status == http.StatusInternalServerError {
		h.log.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: "invalid request body"})
}
