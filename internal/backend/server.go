// Package backend implements the replica server that routed requests land on.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server is one replica: an HTTP handler plus a gRPC health service.
type Server struct {
	hostname   string
	logger     logr.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a replica server identified by hostname.
func NewServer(hostname string, logger logr.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		hostname: hostname,
		logger:   logger.WithValues("hostname", hostname),
		health:   health.NewServer(),
	}
	s.httpServer = &http.Server{Handler: s.Handler()}

	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	return s
}

// Hostname returns the replica identity.
func (s *Server) Hostname() string {
	return s.hostname
}

// Handler returns the HTTP handler of the replica.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/home", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello from %s", s.hostname)
	})
	r.GET("/heartbeat", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/:path", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello from %s: /%s", s.hostname, c.Param("path"))
	})
	return r
}

// Serve accepts HTTP connections on httpLis and gRPC health checks on
// healthLis (optional) until Shutdown is called.
func (s *Server) Serve(httpLis, healthLis net.Listener) error {
	errCh := make(chan error, 2)

	if healthLis != nil {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			if err := s.grpcServer.Serve(healthLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("health server: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	s.logger.Info("Starting replica", "http", httpLis.Addr().String())
	go func() {
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	return <-errCh
}

// Shutdown reports NOT_SERVING, then stops both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping replica")
	s.health.Shutdown()
	err := s.httpServer.Shutdown(ctx)
	s.grpcServer.GracefulStop()
	return err
}
