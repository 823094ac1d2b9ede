// Package grpc serves token verification to other services and the
// standard gRPC health protocol.
package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/ratelimit"
)

const (
	healthInterval = 10 * time.Second
	pingTimeout    = 2 * time.Second
)

// TokenVerifier checks a signed token of the given kind.
type TokenVerifier interface {
	Verify(token string, kind auth.Kind) (*auth.Claims, error)
}

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type GRPCServer struct {
	address  string
	verifier TokenVerifier
	limiter  ratelimit.Limiter
	db       Pinger
	logger   logging.Logger
	health   *health.Server
}

func NewGRPCServer(a string, l logging.Logger, v TokenVerifier, limiter ratelimit.Limiter, db Pinger) *GRPCServer {
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		verifier: v,
		limiter:  limiter,
		db:       db,
		health:   health.NewServer(),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.rateLimitInterceptor, s.loggingInterceptor))
	srv.RegisterService(&TokenVerifierServiceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.newServer()
	s.checkHealth(ctx)

	go func() {
		t := time.NewTicker(healthInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info(ctx, "Stopping gRPC server...")
				s.health.Shutdown()
				srv.GracefulStop()
				return
			case <-t.C:
				s.checkHealth(ctx)
			}
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

// checkHealth flips the overall serving status with the database.
func (s *GRPCServer) checkHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.db != nil {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn(ctx, "database ping failed", "err", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(TokenVerifierServiceDesc.ServiceName, status)
}
