package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// SQLRepository implements Repository over dbx.DBTX (satisfied by *sql.DB
// or *sql.Tx).
type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Add(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (jti, email, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, token.JTI, token.Email, token.ExpiresAt, token.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) FindByJTI(ctx context.Context, jti string) (*models.RefreshToken, error) {
	query := `
		SELECT jti, email, expires_at, created_at, revoked
		FROM refresh_tokens
		WHERE jti = $1
	`
	t := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, jti).Scan(&t.JTI, &t.Email, &t.ExpiresAt, &t.CreatedAt, &t.Revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// Revoke flips revoked from NULL to at in a single conditional statement, so
// of two concurrent callers exactly one sees the row come back.
func (r *SQLRepository) Revoke(ctx context.Context, jti string, at time.Time) (*models.RefreshToken, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = $2
		WHERE jti = $1 AND revoked IS NULL
		RETURNING jti, email, expires_at, created_at, revoked
	`
	t := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, jti, at).Scan(&t.JTI, &t.Email, &t.ExpiresAt, &t.CreatedAt, &t.Revoked)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	existing, err := r.FindByJTI(ctx, jti)
	if err != nil {
		return nil, err
	}
	return existing, common.ErrTokenRevoked
}

func (r *SQLRepository) RevokeAllForUser(ctx context.Context, email string, at time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = $2
		WHERE email = $1 AND revoked IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, email, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
