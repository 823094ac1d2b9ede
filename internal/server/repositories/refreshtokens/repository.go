// Package refreshtokens declares the refresh token store and its SQL
// implementation. Rows are keyed by the JWT's jti; the token string itself
// is never persisted.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository defines operations for recording, looking up and revoking
// refresh tokens.
type Repository interface {
	// Add records a freshly minted refresh token.
	Add(ctx context.Context, token *models.RefreshToken) error

	// FindByJTI returns common.ErrorNotFound when the jti is unknown.
	FindByJTI(ctx context.Context, jti string) (*models.RefreshToken, error)

	// Revoke marks the token revoked at the given time. Only the first call
	// for a jti succeeds: an unknown jti yields common.ErrorNotFound, an
	// already revoked one yields the stored row with common.ErrTokenRevoked.
	Revoke(ctx context.Context, jti string, at time.Time) (*models.RefreshToken, error)

	// RevokeAllForUser revokes every live token of email and returns how
	// many were revoked.
	RevokeAllForUser(ctx context.Context, email string, at time.Time) (int64, error)

	// DeleteExpired removes rows whose expiry is before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
