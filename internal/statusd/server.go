package statusd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/config"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/logger"
)

// Server runs the HTTP progress API and the gRPC health service.
type Server struct {
	http     *http.Server
	grpc     *grpc.Server
	health   *health.Server
	httpAddr net.Addr
	grpcAddr net.Addr
}

// Start listens on the addresses of cfg; an empty address disables that
// endpoint. Serving errors are logged.
func Start(cfg config.Status, store *Store, metrics http.Handler, accessLog io.Writer) (*Server, error) {
	s := &Server{}
	if cfg.HTTPAddr != "" {
		lis, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
		}
		s.httpAddr = lis.Addr()
		s.http = &http.Server{
			Handler:           NewHTTPServer(store, metrics).Handler(accessLog),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		go func() {
			logger.Info("HTTP status server listening", "addr", s.httpAddr.String())
			if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP status server error", "error", err)
			}
		}()
	}
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			s.Shutdown(context.Background())
			return nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
		s.grpcAddr = lis.Addr()
		s.grpc, s.health = NewGRPCServer(store)
		go func() {
			logger.Info("gRPC health server listening", "addr", s.grpcAddr.String())
			if err := s.grpc.Serve(lis); err != nil {
				logger.Error("gRPC health server error", "error", err)
			}
		}()
	}
	return s, nil
}

// HTTPAddr returns the bound HTTP address, or "" when disabled.
func (s *Server) HTTPAddr() string {
	if s.httpAddr == nil {
		return ""
	}
	return s.httpAddr.String()
}

// GRPCAddr returns the bound gRPC address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	if s.grpcAddr == nil {
		return ""
	}
	return s.grpcAddr.String()
}

// Shutdown stops both servers, waiting for in-flight requests until ctx
// ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.http != nil {
		return s.http.Shutdown(ctx)
	}
	return nil
}
