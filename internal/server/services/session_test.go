package services

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwords"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repotest"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

const (
	alice    = "alice@example.com"
	password = "Str0ngP@ssw0rd!"
	newPass  = "N3w-Passw0rd!x"
)

var start = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []mailer.Message
}

func (n *fakeNotifier) Enqueue(msg mailer.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *fakeNotifier) last(t *testing.T) mailer.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.msgs, "no message queued")
	return n.msgs[len(n.msgs)-1]
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// linkParam extracts a query parameter from the link of a queued message.
func linkParam(t *testing.T, msg mailer.Message, key string) string {
	t.Helper()
	data, ok := msg.Data.(mailer.LinkData)
	require.True(t, ok)
	u, err := url.Parse(data.Link)
	require.NoError(t, err)
	return u.Query().Get(key)
}

type fixture struct {
	db       *sql.DB
	clock    *timex.FixedClock
	notifier *fakeNotifier
	svc      *SessionService
}

func newFixture(t *testing.T, confirm bool, tweaks ...func(*Deps, *Config)) *fixture {
	t.Helper()

	db := repotest.OpenSQLite(t)
	rm, err := repomanager.NewRepositoryManager(repomanager.DriverSQLite)
	require.NoError(t, err)

	privPEM, pubPEM, err := auth.GenerateKeyPair("ES256")
	require.NoError(t, err)
	m, err := auth.ParseSigningMethod("ES256")
	require.NoError(t, err)
	priv, err := auth.ParsePrivateKeyPEM(m, privPEM)
	require.NoError(t, err)
	pub, err := auth.ParsePublicKeyPEM(m, pubPEM)
	require.NoError(t, err)

	clock := timex.NewFixedClock(start)
	tm := tokens.NewManager(auth.NewSigner(m, priv, clock), auth.NewVerifier(m, pub, clock), rm, clock, tokens.Lifetimes{
		Access:        15 * time.Minute,
		Refresh:       30 * 24 * time.Hour,
		Reset:         30 * time.Minute,
		RefreshMaxAge: 7 * 24 * time.Hour,
	})

	policy, err := passwords.NewValidator("medium", nil)
	require.NoError(t, err)

	n := &fakeNotifier{}
	deps := Deps{
		DB:       db,
		Repos:    rm,
		Tokens:   tm,
		Policy:   policy,
		Hasher:   passwords.NewBcryptHasher(bcrypt.MinCost),
		Notifier: n,
		Log:      logging.Discard(),
	}
	cfg := Config{
		EmailConfirmation: confirm,
		ConfirmationTTL:   time.Hour,
		FrontendURL:       "https://app.example.com/",
	}
	for _, tweak := range tweaks {
		tweak(&deps, &cfg)
	}
	svc := NewSessionService(deps, cfg, WithClock(clock))

	return &fixture{db: db, clock: clock, notifier: n, svc: svc}
}

func (f *fixture) register(t *testing.T, email string) (*models.User, *tokens.Pair) {
	t.Helper()
	u, p, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: password})
	require.NoError(t, err)
	return u, p
}

func (f *fixture) activeTokens(t *testing.T, email string) int {
	t.Helper()
	var n int
	err := f.db.QueryRow(`SELECT COUNT(*) FROM refresh_tokens WHERE email = $1 AND revoked IS NULL`, email).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestRegister_ShortPasswordListsLengthFailure(t *testing.T) {
	f := newFixture(t, true)

	_, _, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@b.com", Password: "Sh0rt!"})
	require.ErrorIs(t, err, common.ErrPasswordValidation)

	var verr *passwords.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Reasons, "password must be at least 12 characters long")
	assert.Zero(t, f.notifier.count())
}

func TestRegister_WithConfirmation(t *testing.T) {
	f := newFixture(t, true)

	u, pair, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "a@b.com",
		Password: password,
		Profile:  models.Profile{FirstName: "Ann"},
	})
	require.NoError(t, err)
	assert.False(t, u.EmailConfirmed)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "Ann", u.FirstName.String)
	assert.NotEqual(t, password, u.PasswordHash)

	msg := f.notifier.last(t)
	assert.Equal(t, "a@b.com", msg.To)
	assert.Equal(t, mailer.TemplateConfirmEmail, msg.Template)
	assert.Equal(t, u.ConfirmationToken.String, linkParam(t, msg, "token"))
	assert.Equal(t, "1 hour", msg.Data.(mailer.LinkData).ValidFor)
}

func TestRegister_WithoutConfirmation(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, alice)

	u, err := f.svc.FindUserByEmail(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, u.EmailConfirmed)
	assert.True(t, u.EmailConfirmedAt.Valid)
	assert.Zero(t, f.notifier.count())
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, alice)

	_, _, err := f.svc.Register(context.Background(), RegisterInput{Email: alice, Password: password})
	assert.ErrorIs(t, err, common.ErrUserAlreadyExists)
}

func TestRegister_InvalidEmail(t *testing.T) {
	f := newFixture(t, false)
	_, _, err := f.svc.Register(context.Background(), RegisterInput{Email: "not-an-email", Password: password})
	assert.ErrorIs(t, err, common.ErrInvalidEmail)
}

func TestLogin_GenericFailure(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, alice)
	ctx := context.Background()

	_, _, errUnknown := f.svc.Login(ctx, "bob@example.com", password)
	_, _, errWrong := f.svc.Login(ctx, alice, "wrong-password")
	assert.ErrorIs(t, errUnknown, common.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, common.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLogin_PersistsRefreshRow(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, alice)
	f.clock.Advance(time.Minute)

	u, pair, err := f.svc.Login(context.Background(), alice, password)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, u.LastActivity.Valid)
	// one from registration, one from login
	assert.Equal(t, 2, f.activeTokens(t, alice))
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	f := newFixture(t, false)
	_, pair := f.register(t, alice)
	ctx := context.Background()

	next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)

	_, err = f.svc.Refresh(ctx, next.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_ConcurrentReplayWinsOnce(t *testing.T) {
	f := newFixture(t, false)
	_, pair := f.register(t, alice)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		invalid int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, common.ErrInvalidRefreshToken):
				invalid++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, invalid)
}

func TestRefresh_EmptyAndGarbage(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, common.ErrRefreshTokenNotFound)
	_, err = f.svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)
}

func TestLogout_RevokesAndIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	_, pair := f.register(t, alice)
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, pair.RefreshToken))

	_, err := f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)

	assert.ErrorIs(t, f.svc.Logout(ctx, ""), common.ErrRefreshTokenNotFound)
	assert.ErrorIs(t, f.svc.Logout(ctx, "garbage"), common.ErrInvalidRefreshToken)
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t, false)
	_, pair := f.register(t, alice)
	_, _, err := f.svc.Login(context.Background(), alice, password)
	require.NoError(t, err)

	n, err := f.svc.LogoutAll(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Zero(t, f.activeTokens(t, alice))
}

func TestLogin_InfrastructureErrorIsNotCredentials(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.db.Close())

	_, _, err := f.svc.Login(context.Background(), alice, password)
	require.Error(t, err)
	assert.False(t, errors.Is(err, common.ErrInvalidCredentials))
}

// stalledRepos hands out a users store whose lookups hang until the
// caller's context ends, like a database that stopped answering.
type stalledRepos struct {
	repomanager.RepositoryManager
}

func (r stalledRepos) Users(db dbx.DBTX) users.Repository {
	return stalledUsers{Repository: r.RepositoryManager.Users(db)}
}

type stalledUsers struct {
	users.Repository
}

func (stalledUsers) FindByEmail(ctx context.Context, _ string) (*models.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOperations_BoundedByDBTimeout(t *testing.T) {
	f := newFixture(t, false, func(d *Deps, c *Config) {
		d.Repos = stalledRepos{RepositoryManager: d.Repos}
		c.DBTimeout = 50 * time.Millisecond
	})
	ctx := context.Background()

	began := time.Now()
	_, _, err := f.svc.Login(ctx, alice, password)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(began), 5*time.Second)

	err = f.svc.ForgotPassword(ctx, alice)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, _, err = f.svc.Register(ctx, RegisterInput{Email: alice, Password: password})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewSessionService_DefaultDBTimeout(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, DefaultDBTimeout, f.svc.cfg.DBTimeout)
}
