// Command replica runs one backend server that answers routed requests.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"ringproxy/internal/backend"
	"ringproxy/internal/logging"
)

func main() {
	var (
		hostname    string
		listenAddr  = ":5000"
		healthAddr  = ""
		verbosity   = logging.DEFAULT
		development bool
	)
	fs := pflag.CommandLine
	fs.StringVar(&hostname, "hostname", hostname, "Identity of the replica. Defaults to the HOSTNAME environment variable.")
	fs.StringVar(&listenAddr, "listen", listenAddr, "Address of the HTTP listener.")
	fs.StringVar(&healthAddr, "grpc-health-listen", healthAddr, "Address of the gRPC health listener. Empty disables it.")
	fs.IntVarP(&verbosity, "v", "v", verbosity, "Number for the log level verbosity.")
	fs.BoolVar(&development, "development", development, "Use human-readable development logging.")
	pflag.Parse()

	if hostname == "" {
		hostname = os.Getenv("HOSTNAME")
	}
	if hostname == "" {
		fmt.Fprintln(os.Stderr, "--hostname is required")
		os.Exit(2)
	}

	logger, err := logging.New(verbosity, development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	httpLis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logger.Error(err, "Failed to listen", "address", listenAddr)
		os.Exit(1)
	}
	var healthLis net.Listener
	if healthAddr != "" {
		if healthLis, err = net.Listen("tcp", healthAddr); err != nil {
			logger.Error(err, "Failed to listen", "address", healthAddr)
			os.Exit(1)
		}
	}

	srv := backend.NewServer(hostname, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(httpLis, healthLis)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error(err, "Replica failed")
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "Failed to stop replica")
		os.Exit(1)
	}
}
