package models

import (
	"database/sql"
	"time"
)

// RefreshToken is the persisted half of a refresh JWT, keyed by its jti.
// A token is usable only while Revoked is NULL and ExpiresAt is in the future.
type RefreshToken struct {
	JTI       string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   sql.NullTime
}

// IsRevoked reports whether the token has been revoked.
func (t *RefreshToken) IsRevoked() bool {
	return t.Revoked.Valid
}
