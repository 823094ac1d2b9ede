package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// ConfirmEmail marks email as confirmed when token matches the one last
// sent and the confirmation window has not passed.
func (s *SessionService) ConfirmEmail(ctx context.Context, email, token string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	user, err := s.repos.Users(s.db).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidConfirmationToken
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailConfirmed {
		return common.ErrEmailAlreadyConfirmed
	}
	if !user.ConfirmationToken.Valid || token == "" ||
		subtle.ConstantTimeCompare([]byte(user.ConfirmationToken.String), []byte(token)) != 1 {
		return common.ErrInvalidConfirmationToken
	}
	now := s.clock.Now()
	if !user.ConfirmationSentAt.Valid || now.Sub(user.ConfirmationSentAt.Time) > s.cfg.ConfirmationTTL {
		return common.ErrInvalidConfirmationToken
	}

	confirmed := true
	_, err = s.repos.Users(s.db).Update(ctx, user.ID, models.UserUpdate{
		EmailConfirmed:     &confirmed,
		EmailConfirmedAt:   &sql.NullTime{Time: now, Valid: true},
		ConfirmationToken:  &sql.NullString{},
		ConfirmationSentAt: &sql.NullTime{},
	})
	if err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}
	s.log.Info(ctx, "email confirmed", "user_id", user.ID)
	return nil
}

// ResendConfirmation issues a fresh confirmation token for the access
// token's owner. A resend is refused while the previous link is still valid.
func (s *SessionService) ResendConfirmation(ctx context.Context, accessToken string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	user, err := s.CurrentUser(ctx, accessToken)
	if err != nil {
		return err
	}
	if user.EmailConfirmed {
		return common.ErrEmailAlreadyConfirmed
	}
	now := s.clock.Now()
	if user.ConfirmationSentAt.Valid && now.Sub(user.ConfirmationSentAt.Time) < s.cfg.ConfirmationTTL {
		return common.ErrTooEarlyResend
	}

	token := s.newToken()
	_, err = s.repos.Users(s.db).Update(ctx, user.ID, models.UserUpdate{
		ConfirmationToken:  &sql.NullString{String: token, Valid: true},
		ConfirmationSentAt: &sql.NullTime{Time: now, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("resend confirmation: %w", err)
	}

	s.sendConfirmation(user.Email, token)
	s.log.Info(ctx, "confirmation resent", "user_id", user.ID)
	return nil
}

func (s *SessionService) sendConfirmation(email, token string) {
	s.notifier.Enqueue(mailer.Message{
		To:       email,
		Subject:  "Confirm your email",
		Template: mailer.TemplateConfirmEmail,
		Data: mailer.LinkData{
			Email:    email,
			Link:     s.link("/email/confirm", "email", email, "token", token),
			ValidFor: humanDuration(s.cfg.ConfirmationTTL),
		},
	})
}

// link builds a frontend URL from path and query key/value pairs.
func (s *SessionService) link(path string, kv ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	return strings.TrimRight(s.cfg.FrontendURL, "/") + path + "?" + q.Encode()
}

func humanDuration(d time.Duration) string {
	unit := func(n int, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return unit(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return unit(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return unit(int(d/time.Minute), "minute")
	}
	return d.String()
}
