package lifecycle

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/go-logr/logr"

	"ringproxy/internal/backend"
	"ringproxy/internal/membership"
)

const loopback = "127.0.0.1"

// InProcess runs each replica as a backend.Server inside the current process.
type InProcess struct {
	mu      sync.Mutex
	logger  logr.Logger
	servers map[string]*backend.Server
}

// NewInProcess creates an in-process provisioner.
func NewInProcess(logger logr.Logger) *InProcess {
	return &InProcess{
		logger:  logger.WithName("inprocess"),
		servers: make(map[string]*backend.Server),
	}
}

// Provision starts a replica on two loopback listeners.
func (p *InProcess) Provision(_ context.Context, hostname string) (membership.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.servers[hostname]; exists {
		return membership.Endpoint{}, fmt.Errorf("replica %s is already running", hostname)
	}

	httpLis, err := net.Listen("tcp", net.JoinHostPort(loopback, "0"))
	if err != nil {
		return membership.Endpoint{}, fmt.Errorf("failed to listen for %s: %w", hostname, err)
	}
	healthLis, err := net.Listen("tcp", net.JoinHostPort(loopback, "0"))
	if err != nil {
		httpLis.Close()
		return membership.Endpoint{}, fmt.Errorf("failed to listen for %s health: %w", hostname, err)
	}

	srv := backend.NewServer(hostname, p.logger)
	go func() {
		if err := srv.Serve(httpLis, healthLis); err != nil {
			p.logger.Error(err, "Replica stopped serving", "hostname", hostname)
		}
	}()
	p.servers[hostname] = srv

	return membership.Endpoint{
		Address:    loopback,
		Port:       httpLis.Addr().(*net.TCPAddr).Port,
		HealthPort: healthLis.Addr().(*net.TCPAddr).Port,
	}, nil
}

// Decommission stops the replica's servers. A replica whose shutdown fails
// stays tracked so that a later call can retry.
func (p *InProcess) Decommission(ctx context.Context, hostname string) error {
	p.mu.Lock()
	srv, exists := p.servers[hostname]
	p.mu.Unlock()

	if !exists {
		return fmt.Errorf("replica %s is not running", hostname)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop replica %s: %w", hostname, err)
	}

	p.mu.Lock()
	if p.servers[hostname] == srv {
		delete(p.servers, hostname)
	}
	p.mu.Unlock()
	return nil
}

// Running returns the number of live in-process replicas.
func (p *InProcess) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.servers)
}
