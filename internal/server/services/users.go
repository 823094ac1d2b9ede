package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// CurrentUser resolves an access token to its user. Banned users are
// refused even while their access token is still valid.
func (s *SessionService) CurrentUser(ctx context.Context, accessToken string) (*models.User, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if accessToken == "" {
		return nil, common.ErrAccessTokenNotFound
	}
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidAccessToken, err)
	}

	user, err := s.repos.Users(s.db).FindByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidAccessToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.Banned {
		return nil, common.ErrorForbidden
	}
	return user, nil
}

// RequireRole returns common.ErrorForbidden unless user holds one of roles.
func RequireRole(user *models.User, roles ...string) error {
	if user == nil || !slices.Contains(roles, user.Role) {
		return common.ErrorForbidden
	}
	return nil
}

func (s *SessionService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repos.Users(s.db).List(ctx, limit, offset)
}

func (s *SessionService) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	return s.repos.Users(s.db).FindByEmail(ctx, email)
}

// BanUser bans the account and revokes all of its refresh tokens.
func (s *SessionService) BanUser(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	var user *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		banned := true
		u, err := s.repos.Users(tx).Update(ctx, id, models.UserUpdate{
			Banned:   &banned,
			BannedAt: &sql.NullTime{Time: s.clock.Now(), Valid: true},
		})
		if err != nil {
			return err
		}
		user = u
		_, err = s.tokens.RevokeAll(ctx, tx, u.Email)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("ban user: %w", err)
	}
	s.log.Info(ctx, "user banned", "user_id", id)
	return user, nil
}
