// Package server wires the authkeeper components together and runs the
// HTTP and gRPC servers with a janitor that purges expired refresh tokens.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwords"
	"github.com/dmitrijs2005/authkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
	"github.com/dmitrijs2005/authkeeper/internal/timex"

	gs "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 5 * time.Second
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	limiter  ratelimit.Limiter
	notifier *mailer.AsyncNotifier
	sessions *services.SessionService
	verifier *auth.Verifier
	router   http.Handler
	closers  []func() error
}

// NewApp opens and migrates the database and builds every component from c.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger}

	if err := app.init(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config
	clock := timex.SystemClock()

	db, repos, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	if err := repos.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	method, err := auth.ParseSigningMethod(c.JWTAlgorithm)
	if err != nil {
		return err
	}
	priv, err := auth.LoadPrivateKey(method, c.JWTPrivateKeyPath)
	if err != nil {
		return err
	}
	pub, err := auth.LoadPublicKey(method, c.JWTPublicKeyPath)
	if err != nil {
		return err
	}
	app.verifier = auth.NewVerifier(method, pub, clock)
	tm := tokens.NewManager(auth.NewSigner(method, priv, clock), app.verifier, repos, clock, tokens.Lifetimes{
		Access:        c.AccessTokenTTL,
		Refresh:       c.RefreshTokenTTL,
		Reset:         c.ResetTokenTTL,
		RefreshMaxAge: c.RefreshMaxAge,
	})

	commonSet := passwords.LoadCommonPasswords(ctx, c.CommonPasswordsPath, passwords.S3Options{
		Region:    c.S3Region,
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
	}, app.logger)
	policy, err := passwords.NewValidator(c.PasswordTier, commonSet)
	if err != nil {
		return err
	}

	if app.limiter, err = app.newLimiter(ctx, clock); err != nil {
		return err
	}

	m, err := app.newMailer()
	if err != nil {
		return err
	}
	app.notifier = mailer.NewAsyncNotifier(m, app.logger.With("module", "notifier"), mailer.WithSendRate(c.SMTPSendRate))

	app.sessions = services.NewSessionService(services.Deps{
		DB:       db,
		Repos:    repos,
		Tokens:   tm,
		Policy:   policy,
		Hasher:   passwords.NewBcryptHasher(c.BcryptCost),
		Notifier: app.notifier,
		Log:      app.logger.With("module", "sessions"),
	}, services.Config{
		EmailConfirmation: c.EmailConfirmation,
		ConfirmationTTL:   c.ConfirmationTTL,
		FrontendURL:       c.FrontendURL,
		DBTimeout:         c.DBTimeout,
	}, services.WithClock(clock))

	cookies := httpapi.NewCookieManager(httpapi.CookieConfig{
		Secure:   c.CookieSecure,
		SameSite: c.CookieSameSite,
		Domain:   c.CookieDomain,
	})
	handler := httpapi.NewHandler(app.sessions, cookies, app.limiter, db, app.logger.With("module", "http_server"))
	if app.router, err = httpapi.NewRouter(handler, c.TrustedProxies); err != nil {
		return err
	}

	app.logger.Info(ctx, "app initialised",
		"driver", c.DatabaseDriver,
		"password_tier", policy.Tier(),
		"jwt_alg", method.Alg(),
		"rate_limit", c.RateLimitEnabled,
		"email_confirmation", c.EmailConfirmation,
	)
	return nil
}

func (app *App) newLimiter(ctx context.Context, clock timex.Clock) (ratelimit.Limiter, error) {
	c := app.config
	if !c.RateLimitEnabled {
		return ratelimit.NoopLimiter{}, nil
	}
	if c.RateLimitBackend == config.LimiterRedis {
		client, err := ratelimit.NewRedisClient(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		return ratelimit.NewRedisLimiter(client, c.RateLimits, clock), nil
	}
	return ratelimit.NewMemoryLimiter(c.RateLimits, clock), nil
}

func (app *App) newMailer() (mailer.Mailer, error) {
	c := app.config
	templates, err := mailer.NewTemplates(c.TemplatesDir)
	if err != nil {
		return nil, err
	}
	if c.SMTPHost == "" {
		app.logger.Warn(context.Background(), "smtp is not configured, emails are only logged")
		return mailer.NewLogMailer(templates, app.logger.With("module", "mailer")), nil
	}
	return mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
	}, templates)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown", "err", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.verifier, app.limiter, app.db)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runJanitor deletes expired refresh tokens every JanitorInterval.
func (app *App) runJanitor(ctx context.Context) {
	t := time.NewTicker(app.config.JanitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := app.sessions.PurgeExpiredTokens(ctx)
			if err != nil {
				app.logger.Error(ctx, "purge expired tokens", "err", err)
				continue
			}
			app.logger.Debug(ctx, "purged expired tokens", "count", n)
		}
	}
}

// Run serves until ctx is cancelled, a signal arrives or a server fails,
// then drains queued mail and releases resources.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runJanitor(ctx)
	}()

	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.notifier.Close(drainCtx); err != nil {
		app.logger.Warn(drainCtx, "mail queue not drained", "err", err)
	}
	if err := app.Close(); err != nil {
		app.logger.Error(drainCtx, "close", "err", err)
	}
	app.logger.Info(drainCtx, "App stopped")
}

// Close releases the database and limiter connections in reverse order.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	app.closers = nil
	return errors.Join(errs...)
}
