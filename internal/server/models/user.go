// Package models defines server-side data models persisted in the database.
package models

import (
	"database/sql"
	"time"
)

// User is a registered account. PasswordHash is a bcrypt digest; the
// plaintext password is never stored.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string

	FirstName    sql.NullString
	LastName     sql.NullString
	PaternalName sql.NullString
	PhoneNumber  sql.NullString
	Birthday     sql.NullTime
	Banned       bool
	BannedAt     sql.NullTime
	LastActivity sql.NullTime
	CreatedAt    time.Time

	EmailConfirmed      bool
	EmailConfirmedAt    sql.NullTime
	ConfirmationToken   sql.NullString
	ConfirmationSentAt  sql.NullTime
	ResetTokenID        sql.NullString
	ResetTokenCreatedAt sql.NullTime
}

// UserUpdate enumerates the mutable columns of a user row. A nil field is
// left untouched; a non-nil Null* with Valid=false writes NULL.
type UserUpdate struct {
	PasswordHash *string
	Role         *string

	FirstName    *sql.NullString
	LastName     *sql.NullString
	PaternalName *sql.NullString
	PhoneNumber  *sql.NullString
	Birthday     *sql.NullTime
	Banned       *bool
	BannedAt     *sql.NullTime
	LastActivity *sql.NullTime

	EmailConfirmed      *bool
	EmailConfirmedAt    *sql.NullTime
	ConfirmationToken   *sql.NullString
	ConfirmationSentAt  *sql.NullTime
	ResetTokenID        *sql.NullString
	ResetTokenCreatedAt *sql.NullTime
}

// IsEmpty reports whether the update would change nothing.
func (u UserUpdate) IsEmpty() bool {
	return u == UserUpdate{}
}

// Profile carries the optional registration fields.
type Profile struct {
	FirstName    string
	LastName     string
	PaternalName string
	PhoneNumber  string
	Birthday     *time.Time
}
