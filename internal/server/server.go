// Package server hosts the ListingStream gRPC service and the standard health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"heimdall/internal/wire"
)

// Server owns the gRPC server and its listener.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	logger     logrus.FieldLogger
}

// Options contains configuration for creating a Server.
type Options struct {
	// Listener is used when set; otherwise Addr is listened on.
	Listener   net.Listener
	Addr       string
	Subscriber Subscriber
	Logger     logrus.FieldLogger
	// ServerOptions are appended after the codec option.
	ServerOptions []grpc.ServerOption
}

// New creates a server ready to Serve.
func New(opts Options) (*Server, error) {
	if opts.Subscriber == nil {
		return nil, errors.New("server: subscriber is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	lis := opts.Listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", opts.Addr, err)
		}
	}

	grpcServer := grpc.NewServer(append([]grpc.ServerOption{wire.ServerOption()}, opts.ServerOptions...)...)
	wire.RegisterListingStreamServer(grpcServer, NewListingService(opts.Subscriber, logger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(wire.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   lis,
		grpcServer: grpcServer,
		health:     healthServer,
		logger:     logger,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs until ctx is cancelled, then stops gracefully. Open streams end
// when their subscriptions are terminated by the dispatcher.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.WithField("addr", s.Addr()).Info("stream server listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close stops the server immediately.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.health.Shutdown()
	s.grpcServer.Stop()
}
