// Command ringproxy runs the consistent-hash balancer.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ringproxy/internal/api"
	"ringproxy/internal/config"
	"ringproxy/internal/health"
	"ringproxy/internal/lifecycle"
	"ringproxy/internal/logging"
	"ringproxy/internal/membership"
	"ringproxy/internal/metrics"
	"ringproxy/internal/ring"
	"ringproxy/internal/routing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.NewConfig()
	cfg.AddFlags(pflag.CommandLine)
	pflag.Parse()

	if err := cfg.Complete(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogVerbosity, cfg.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(err, "Balancer exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger logr.Logger) error {
	setupLog := logger.WithName("setup")

	flags := make(map[string]any)
	pflag.VisitAll(func(f *pflag.Flag) {
		flags[f.Name] = f.Value.String()
	})
	setupLog.Info("Flags processed", "flags", flags)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr := metrics.New(reg)

	hash, err := ring.HashByName(cfg.Hash)
	if err != nil {
		return err
	}

	checker := lifecycle.NewHealthChecker()
	defer checker.Close()

	provisioner, err := newProvisioner(cfg, checker, logger)
	if err != nil {
		return err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	manager, err := membership.NewManager(membership.Options{
		RingSize:     cfg.RingSize,
		VirtualNodes: cfg.VirtualNodes,
		Hash:         hash,
		Provisioner:  provisioner,
		Rand:         rand.New(rand.NewSource(seed)),
		Policy:       membership.BatchPolicy(cfg.BatchPolicy),
		Logger:       logger,
		Metrics:      mtr,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			setupLog.Error(err, "Failed to stop replicas")
		}
	}()

	if n, hostnames := cfg.InitialBatch(); n > 0 {
		result, err := manager.Add(ctx, n, hostnames)
		if err != nil {
			return fmt.Errorf("starting initial replicas: %w", err)
		}
		setupLog.Info("Initial replicas started", "replicas", result.Replicas, "failed", result.Failed)
	}

	monitor := health.NewMonitor(manager, checker, cfg.ProbeInterval, cfg.ProbeTimeout, logger, mtr)
	monitor.Start()
	defer monitor.Stop()

	router := routing.NewRouter(manager, logger, mtr)
	apiServer := api.NewServer(manager, router, logger)

	errCh := make(chan error, 3)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: apiServer.Handler()}
	go func() {
		setupLog.Info("Starting HTTP API", "address", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsHandler(reg, cfg.EnablePprof)}
		go func() {
			setupLog.Info("Starting metrics server", "address", cfg.MetricsAddr, "pprof", cfg.EnablePprof)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var grpcServer *grpc.Server
	if cfg.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.HealthAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.HealthAddr, err)
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, api.NewHealthServer(manager, logger))
		go func() {
			setupLog.Info("Starting gRPC health server", "address", cfg.HealthAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("health server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		setupLog.Info("Shutting down")
	case err = <-errCh:
		setupLog.Error(err, "Server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownHTTP(shutdownCtx, setupLog, "HTTP API", httpServer)
	if metricsServer != nil {
		shutdownHTTP(shutdownCtx, setupLog, "metrics server", metricsServer)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return err
}

// shutdownHTTP stops srv gracefully and logs a failure.
func shutdownHTTP(ctx context.Context, logger logr.Logger, name string, srv *http.Server) {
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error(err, "Failed to stop "+name)
	}
}

func newProvisioner(cfg *config.Config, checker *lifecycle.HealthChecker, logger logr.Logger) (membership.Provisioner, error) {
	switch cfg.Provisioner {
	case config.ProvisionerProcess:
		return lifecycle.NewProcess(lifecycle.ProcessOptions{
			BinaryPath:   cfg.ReplicaBinary,
			LogDir:       cfg.ReplicaLogDir,
			ReadyTimeout: cfg.ProvisionTimeout,
			Checker:      checker,
			Logger:       logger,
		})
	default:
		return lifecycle.NewInProcess(logger), nil
	}
}

func metricsHandler(reg *prometheus.Registry, enablePprof bool) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if enablePprof {
		pprof.Register(r)
	}
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	r.GET("/metrics", func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	})
	return r
}
