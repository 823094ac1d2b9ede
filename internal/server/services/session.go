// Package services contains the server-side business logic. SessionService
// implements the account and session flows: registration, login, logout,
// token refresh, password reset and change, email confirmation, and the
// admin operations on users.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwords"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// DefaultDBTimeout bounds the store work of one operation when
// Config.DBTimeout is zero.
const DefaultDBTimeout = 5 * time.Second

// Config holds the flow settings of SessionService.
type Config struct {
	EmailConfirmation bool
	ConfirmationTTL   time.Duration
	FrontendURL       string
	// DBTimeout caps every public operation, including its transactions.
	DBTimeout time.Duration
}

// Deps are the collaborators SessionService is built from.
type Deps struct {
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	Tokens   *tokens.Manager
	Policy   *passwords.Validator
	Hasher   passwords.Hasher
	Notifier mailer.Notifier
	Log      logging.Logger
}

type Option func(*SessionService)

// WithClock replaces the system clock, e.g. with a timex.FixedClock.
func WithClock(c timex.Clock) Option {
	return func(s *SessionService) { s.clock = c }
}

type SessionService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	tokens   *tokens.Manager
	policy   *passwords.Validator
	hasher   passwords.Hasher
	notifier mailer.Notifier
	log      logging.Logger
	clock    timex.Clock
	cfg      Config

	validate *validator.Validate
	newToken func() string

	dummyOnce sync.Once
	dummy     string
}

func NewSessionService(d Deps, cfg Config, opts ...Option) *SessionService {
	s := &SessionService{
		db:       d.DB,
		repos:    d.Repos,
		tokens:   d.Tokens,
		policy:   d.Policy,
		hasher:   d.Hasher,
		notifier: d.Notifier,
		log:      d.Log,
		clock:    timex.SystemClock(),
		cfg:      cfg,
		validate: validator.New(),
		newToken: uuid.NewString,
	}
	if s.cfg.DBTimeout <= 0 {
		s.cfg.DBTimeout = DefaultDBTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bounded derives the context an operation runs its store calls under, so
// a stalled database fails the request instead of holding it.
func (s *SessionService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.DBTimeout)
}

// RegisterInput is a registration request. Profile fields are optional.
type RegisterInput struct {
	Email    string
	Password string
	Profile  models.Profile
}

// Register creates the account and opens its first session. With email
// confirmation enabled the account starts unconfirmed and a confirmation
// link is queued for delivery; delivery problems never fail registration.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (*models.User, *tokens.Pair, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.checkEmail(in.Email); err != nil {
		return nil, nil, err
	}

	_, err := s.repos.Users(s.db).FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, nil, common.ErrUserAlreadyExists
	case !errors.Is(err, common.ErrorNotFound):
		return nil, nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := s.checkAndHash(in.Password, in.Email)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	user := &models.User{
		Email:        in.Email,
		PasswordHash: hash,
		Role:         common.RoleUser,
		FirstName:    nullString(in.Profile.FirstName),
		LastName:     nullString(in.Profile.LastName),
		PaternalName: nullString(in.Profile.PaternalName),
		PhoneNumber:  nullString(in.Profile.PhoneNumber),
		CreatedAt:    now,
	}
	if in.Profile.Birthday != nil {
		user.Birthday = sql.NullTime{Time: *in.Profile.Birthday, Valid: true}
	}
	if s.cfg.EmailConfirmation {
		user.ConfirmationToken = sql.NullString{String: s.newToken(), Valid: true}
		user.ConfirmationSentAt = sql.NullTime{Time: now, Valid: true}
	} else {
		user.EmailConfirmed = true
		user.EmailConfirmedAt = sql.NullTime{Time: now, Valid: true}
	}

	var pair *tokens.Pair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.repos.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		user = created
		pair, err = s.tokens.IssuePair(ctx, tx, user.Email)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrUserAlreadyExists) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("register: %w", err)
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID, "email_confirmation", s.cfg.EmailConfirmation)
	if s.cfg.EmailConfirmation {
		s.sendConfirmation(user.Email, user.ConfirmationToken.String)
	}
	return user, pair, nil
}

// Login checks credentials and opens a session. Unknown email and wrong
// password produce the same error.
func (s *SessionService) Login(ctx context.Context, email, password string) (*models.User, *tokens.Pair, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	user, err := s.repos.Users(s.db).FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, nil, fmt.Errorf("lookup user: %w", err)
		}
		// spend the same bcrypt time as a real comparison
		s.hasher.Verify(password, s.dummyHash())
		s.log.Info(ctx, "login failed", "reason", "unknown_email")
		return nil, nil, common.ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.log.Info(ctx, "login failed", "reason", "bad_password", "user_id", user.ID)
		return nil, nil, common.ErrInvalidCredentials
	}
	if user.Banned {
		s.log.Info(ctx, "login refused", "reason", "banned", "user_id", user.ID)
		return nil, nil, common.ErrorForbidden
	}

	now := s.clock.Now()
	var pair *tokens.Pair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		updated, err := s.repos.Users(tx).Update(ctx, user.ID, models.UserUpdate{
			LastActivity: &sql.NullTime{Time: now, Valid: true},
		})
		if err != nil {
			return err
		}
		user = updated
		pair, err = s.tokens.IssuePair(ctx, tx, user.Email)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("login: %w", err)
	}

	s.log.Info(ctx, "login succeeded", "user_id", user.ID)
	return user, pair, nil
}

// Logout revokes the presented refresh token. Revoking a token the store
// does not know, or one already revoked, is logged and treated as done.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if refreshToken == "" {
		return common.ErrRefreshTokenNotFound
	}
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		s.log.Info(ctx, "logout with unusable refresh token", "err", err)
		return common.ErrInvalidRefreshToken
	}

	err = s.tokens.Revoke(ctx, s.db, claims.ID)
	switch {
	case err == nil:
		s.log.Info(ctx, "logout", "jti", claims.ID)
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrTokenRevoked):
		s.log.Warn(ctx, "logout for unknown or revoked refresh token", "jti", claims.ID, "err", err)
	default:
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// LogoutAll revokes every refresh token of the access token's owner.
func (s *SessionService) LogoutAll(ctx context.Context, accessToken string) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	user, err := s.CurrentUser(ctx, accessToken)
	if err != nil {
		return 0, err
	}
	n, err := s.tokens.RevokeAll(ctx, s.db, user.Email)
	if err != nil {
		return 0, fmt.Errorf("logout all: %w", err)
	}
	s.log.Info(ctx, "logout from all devices", "user_id", user.ID, "revoked", n)
	return n, nil
}

// Refresh spends a refresh token and returns a new pair. Replaying a spent
// token, even concurrently, fails with common.ErrInvalidRefreshToken.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*tokens.Pair, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if refreshToken == "" {
		return nil, common.ErrRefreshTokenNotFound
	}

	var pair *tokens.Pair
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		claims, p, err := s.tokens.Rotate(ctx, tx, refreshToken)
		if err != nil {
			return err
		}
		user, err := s.repos.Users(tx).FindByEmail(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%w: %w", common.ErrInvalidRefreshToken, err)
			}
			return err
		}
		if user.Banned {
			return common.ErrorForbidden
		}
		pair = p
		return nil
	})
	switch {
	case err == nil:
		return pair, nil
	case errors.Is(err, common.ErrInvalidRefreshToken):
		s.log.Warn(ctx, "refresh rejected", "err", err)
		return nil, common.ErrInvalidRefreshToken
	case errors.Is(err, common.ErrorForbidden):
		return nil, common.ErrorForbidden
	}
	return nil, fmt.Errorf("refresh: %w", err)
}

// PurgeExpiredTokens deletes refresh token rows past their expiry.
func (s *SessionService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	return s.tokens.Purge(ctx, s.db)
}

func (s *SessionService) checkEmail(email string) error {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return common.ErrInvalidEmail
	}
	return nil
}

// checkAndHash applies the password policy and hashes the result.
func (s *SessionService) checkAndHash(password, email string) (string, error) {
	if err := s.policy.Validate(password, email); err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, passwords.ErrPasswordTooLong) {
			return "", &passwords.ValidationError{Reasons: []string{err.Error()}}
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (s *SessionService) dummyHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(s.newToken())
		if err == nil {
			s.dummy = h
		}
	})
	return s.dummy
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
