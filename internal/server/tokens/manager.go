// Package tokens ties the JWT signer and verifier to the refresh token
// store. Access and reset tokens are stateless; every refresh token has a
// row keyed by its jti and stops verifying once that row is revoked.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// Lifetimes of the three token kinds. RefreshMaxAge bounds a refresh row's
// age from creation independently of the expiry embedded in the JWT.
type Lifetimes struct {
	Access        time.Duration
	Refresh       time.Duration
	Reset         time.Duration
	RefreshMaxAge time.Duration
}

// Pair is what a successful login, registration or refresh hands back.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type Manager struct {
	signer    *auth.Signer
	verifier  *auth.Verifier
	repos     repomanager.RepositoryManager
	clock     timex.Clock
	lifetimes Lifetimes
	newID     func() string
}

func NewManager(signer *auth.Signer, verifier *auth.Verifier, repos repomanager.RepositoryManager,
	clock timex.Clock, lifetimes Lifetimes) *Manager {
	if lifetimes.RefreshMaxAge <= 0 {
		lifetimes.RefreshMaxAge = lifetimes.Refresh
	}
	return &Manager{
		signer:    signer,
		verifier:  verifier,
		repos:     repos,
		clock:     clock,
		lifetimes: lifetimes,
		newID:     uuid.NewString,
	}
}

func (m *Manager) Lifetimes() Lifetimes {
	return m.lifetimes
}

func (m *Manager) IssueAccess(subject string) (string, *auth.Claims, error) {
	return m.signer.Sign(auth.KindAccess, subject, "", m.lifetimes.Access)
}

// IssueRefresh mints a refresh token and records its row through db.
func (m *Manager) IssueRefresh(ctx context.Context, db dbx.DBTX, subject string) (string, *auth.Claims, error) {
	token, claims, err := m.signer.Sign(auth.KindRefresh, subject, m.newID(), m.lifetimes.Refresh)
	if err != nil {
		return "", nil, err
	}

	row := &models.RefreshToken{
		JTI:       claims.ID,
		Email:     subject,
		ExpiresAt: claims.ExpiresAt.Time,
		CreatedAt: claims.IssuedAt.Time,
	}
	if err := m.repos.RefreshTokens(db).Add(ctx, row); err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

func (m *Manager) IssuePair(ctx context.Context, db dbx.DBTX, subject string) (*Pair, error) {
	access, ac, err := m.IssueAccess(subject)
	if err != nil {
		return nil, err
	}
	refresh, rc, err := m.IssueRefresh(ctx, db, subject)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: rc.ExpiresAt.Time,
	}, nil
}

// IssueReset mints a single-purpose reset token. The returned jti is what
// the caller persists to bind the token to one use.
func (m *Manager) IssueReset(subject string) (string, string, error) {
	token, claims, err := m.signer.Sign(auth.KindReset, subject, m.newID(), m.lifetimes.Reset)
	if err != nil {
		return "", "", err
	}
	return token, claims.ID, nil
}

func (m *Manager) VerifyAccess(token string) (*auth.Claims, error) {
	return m.verifier.Verify(token, auth.KindAccess)
}

func (m *Manager) VerifyReset(token string) (*auth.Claims, error) {
	return m.verifier.Verify(token, auth.KindReset)
}

// ParseRefresh checks only the refresh JWT: signature, expiry and kind.
func (m *Manager) ParseRefresh(token string) (*auth.Claims, error) {
	claims, err := m.verifier.Verify(token, auth.KindRefresh)
	if err != nil {
		return nil, invalidRefresh(err)
	}
	return claims, nil
}

// VerifyRefresh checks the JWT and then its row. The returned error always
// matches common.ErrInvalidRefreshToken and additionally wraps the concrete
// cause (expired, revoked, not found, too old) for logging.
func (m *Manager) VerifyRefresh(ctx context.Context, db dbx.DBTX, token string) (*auth.Claims, *models.RefreshToken, error) {
	claims, err := m.ParseRefresh(token)
	if err != nil {
		return nil, nil, err
	}

	row, err := m.repos.RefreshTokens(db).FindByJTI(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, invalidRefresh(err)
		}
		return nil, nil, err
	}
	if row.IsRevoked() {
		return nil, nil, invalidRefresh(common.ErrTokenRevoked)
	}
	if err := m.checkRow(claims, row); err != nil {
		return nil, nil, err
	}
	return claims, row, nil
}

// Rotate spends a refresh token and issues a new pair. Revocation of the
// presented jti is the first write, so when the same token is replayed
// concurrently only one caller wins and the rest see it revoked. Run it
// inside a transaction so the revoke is undone if issuing fails.
func (m *Manager) Rotate(ctx context.Context, tx dbx.DBTX, token string) (*auth.Claims, *Pair, error) {
	claims, err := m.ParseRefresh(token)
	if err != nil {
		return nil, nil, err
	}

	row, err := m.repos.RefreshTokens(tx).Revoke(ctx, claims.ID, m.clock.Now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrTokenRevoked) {
			return nil, nil, invalidRefresh(err)
		}
		return nil, nil, err
	}
	if err := m.checkRow(claims, row); err != nil {
		return nil, nil, err
	}

	pair, err := m.IssuePair(ctx, tx, claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	return claims, pair, nil
}

// Revoke revokes jti. An unknown or already revoked jti is reported through
// the returned error so callers can log it; both are safe to ignore.
func (m *Manager) Revoke(ctx context.Context, db dbx.DBTX, jti string) error {
	_, err := m.repos.RefreshTokens(db).Revoke(ctx, jti, m.clock.Now())
	return err
}

func (m *Manager) RevokeAll(ctx context.Context, db dbx.DBTX, email string) (int64, error) {
	return m.repos.RefreshTokens(db).RevokeAllForUser(ctx, email, m.clock.Now())
}

// Purge removes rows that expired before now.
func (m *Manager) Purge(ctx context.Context, db dbx.DBTX) (int64, error) {
	return m.repos.RefreshTokens(db).DeleteExpired(ctx, m.clock.Now())
}

func (m *Manager) checkRow(claims *auth.Claims, row *models.RefreshToken) error {
	now := m.clock.Now()
	if row.Email != claims.Subject {
		return invalidRefresh(fmt.Errorf("%w: subject mismatch", common.ErrInvalidToken))
	}
	if !now.Before(row.ExpiresAt) {
		return invalidRefresh(common.ErrTokenExpired)
	}
	if now.Sub(row.CreatedAt) > m.lifetimes.RefreshMaxAge {
		return invalidRefresh(fmt.Errorf("%w: older than %s", common.ErrTokenExpired, m.lifetimes.RefreshMaxAge))
	}
	return nil
}

func invalidRefresh(cause error) error {
	return fmt.Errorf("%w: %w", common.ErrInvalidRefreshToken, cause)
}
