// Package ratelimit caps request rates per (route, client) pair. The policy
// table is data handed to a Limiter; transports consult it through Admit
// before any handler logic runs.
package ratelimit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

type Route string

const (
	RouteRegister           Route = "register"
	RouteLogin              Route = "login"
	RouteRefresh            Route = "refresh"
	RouteLogout             Route = "logout"
	RouteForgotPassword     Route = "forgot_password"
	RouteResetPassword      Route = "reset_password"
	RouteConfirmEmail       Route = "confirm_email"
	RouteResendConfirmation Route = "resend_confirmation"
	RouteVerify             Route = "verify"
)

// Policy admits at most Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

type Policies map[Route]Policy

func DefaultPolicies() Policies {
	return Policies{
		RouteRegister:           {Limit: 5, Window: time.Minute},
		RouteLogin:              {Limit: 10, Window: time.Minute},
		RouteRefresh:            {Limit: 30, Window: time.Minute},
		RouteLogout:             {Limit: 30, Window: time.Minute},
		RouteForgotPassword:     {Limit: 3, Window: time.Minute},
		RouteResetPassword:      {Limit: 5, Window: time.Minute},
		RouteConfirmEmail:       {Limit: 10, Window: time.Minute},
		RouteResendConfirmation: {Limit: 3, Window: time.Minute},
		RouteVerify:             {Limit: 600, Window: time.Minute},
	}
}

// With returns a copy of p with overrides applied. Entries with a
// non-positive limit or window are ignored.
func (p Policies) With(overrides Policies) Policies {
	out := make(Policies, len(p)+len(overrides))
	for r, pol := range p {
		out[r] = pol
	}
	for r, pol := range overrides {
		if pol.Limit > 0 && pol.Window > 0 {
			out[r] = pol
		}
	}
	return out
}

// Limiter decides whether client may call route now. Routes without a
// policy are always allowed.
type Limiter interface {
	Allow(ctx context.Context, route Route, client string) (bool, error)
}

type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, Route, string) (bool, error) { return true, nil }

// Admit consults l and fails open when the limiter itself errors, so an
// unavailable backend never locks users out.
func Admit(ctx context.Context, l Limiter, log logging.Logger, route Route, client string) bool {
	ok, err := l.Allow(ctx, route, client)
	if err != nil {
		log.Warn(ctx, "rate limiter unavailable, admitting request", "route", route, "err", err)
		return true
	}
	if !ok {
		log.Info(ctx, "rate limit exceeded", "route", route, "client", client)
	}
	return ok
}
