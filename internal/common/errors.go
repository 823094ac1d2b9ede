// Package common defines shared constants and sentinel errors used across
// the authkeeper server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound         = errors.New("not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrPasswordValidation = errors.New("password validation failed")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidEmail = errors.New("invalid email")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")

	// Session flow errors, surfaced to clients by the transport layer.
	ErrInvalidCredentials          = errors.New("invalid credentials")
	ErrRefreshTokenNotFound        = errors.New("refresh token not found")
	ErrInvalidRefreshToken         = errors.New("invalid refresh token")
	ErrAccessTokenNotFound         = errors.New("access token not found")
	ErrInvalidAccessToken          = errors.New("invalid access token")
	ErrInvalidResetToken           = errors.New("invalid password reset token")
	ErrPasswordIdenticalToPrevious = errors.New("new password is identical to the previous one")
	ErrInvalidConfirmationToken    = errors.New("invalid or expired email confirmation token")
	ErrEmailAlreadyConfirmed       = errors.New("email already confirmed")
	ErrTooEarlyResend              = errors.New("confirmation email was sent recently")
	ErrTooManyRequests             = errors.New("too many requests")
)
