package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// ForgotPassword issues a reset token for email and queues the reset link.
// It succeeds for unknown addresses too, so callers cannot enumerate accounts.
// Issuing a new token invalidates the previous one.
func (s *SessionService) ForgotPassword(ctx context.Context, email string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.checkEmail(email); err != nil {
		return err
	}

	user, err := s.repos.Users(s.db).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.log.Info(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	token, jti, err := s.tokens.IssueReset(user.Email)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	_, err = s.repos.Users(s.db).Update(ctx, user.ID, models.UserUpdate{
		ResetTokenID:        &sql.NullString{String: jti, Valid: true},
		ResetTokenCreatedAt: &sql.NullTime{Time: s.clock.Now(), Valid: true},
	})
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.notifier.Enqueue(mailer.Message{
		To:       user.Email,
		Subject:  "Password reset",
		Template: mailer.TemplateResetPassword,
		Data: mailer.LinkData{
			Email:    user.Email,
			Link:     s.link("/reset-password", "token", token),
			ValidFor: humanDuration(s.tokens.Lifetimes().Reset),
		},
	})
	s.log.Info(ctx, "password reset issued", "user_id", user.ID)
	return nil
}

// ResetPassword sets a new password using a reset token. The token is
// single use and every session of the account is revoked.
func (s *SessionService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	claims, err := s.tokens.VerifyReset(resetToken)
	if err != nil {
		s.log.Info(ctx, "reset token rejected", "err", err)
		return common.ErrInvalidResetToken
	}

	user, err := s.repos.Users(s.db).FindByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidResetToken
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.ResetTokenID.Valid || user.ResetTokenID.String != claims.ID {
		return common.ErrInvalidResetToken
	}

	hash, err := s.newPasswordHash(user, newPassword)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		// a concurrent reset may have spent the token after the check above
		current, err := s.repos.Users(tx).FindByID(ctx, user.ID)
		if err != nil {
			return err
		}
		if current.ResetTokenID.String != claims.ID {
			return common.ErrInvalidResetToken
		}
		if _, err := s.repos.Users(tx).Update(ctx, user.ID, models.UserUpdate{
			PasswordHash:        &hash,
			ResetTokenID:        &sql.NullString{},
			ResetTokenCreatedAt: &sql.NullTime{},
		}); err != nil {
			return err
		}
		_, err = s.tokens.RevokeAll(ctx, tx, user.Email)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidResetToken) {
			return err
		}
		return fmt.Errorf("reset password: %w", err)
	}

	s.log.Info(ctx, "password reset", "user_id", user.ID)
	return nil
}

// ChangePassword replaces the password of the access token's owner after
// checking the current one. Every session of the account is revoked.
func (s *SessionService) ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	user, err := s.CurrentUser(ctx, accessToken)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return common.ErrInvalidCredentials
	}

	hash, err := s.newPasswordHash(user, newPassword)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repos.Users(tx).Update(ctx, user.ID, models.UserUpdate{PasswordHash: &hash}); err != nil {
			return err
		}
		_, err := s.tokens.RevokeAll(ctx, tx, user.Email)
		return err
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	s.log.Info(ctx, "password changed", "user_id", user.ID)
	return nil
}

func (s *SessionService) newPasswordHash(user *models.User, password string) (string, error) {
	if s.hasher.Verify(password, user.PasswordHash) {
		return "", common.ErrPasswordIdenticalToPrevious
	}
	return s.checkAndHash(password, user.Email)
}
