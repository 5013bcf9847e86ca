package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthChecker issues grpc.health.v1 checks and caches one client
// connection per address.
type HealthChecker struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewHealthChecker creates an empty checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		conns: make(map[string]*grpc.ClientConn),
	}
}

// Check returns nil if the server at addr reports SERVING for the overall
// service.
func (hc *HealthChecker) Check(ctx context.Context, addr string) error {
	conn, err := hc.conn(addr)
	if err != nil {
		return err
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check %s: %w", addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check %s: status %s", addr, resp.GetStatus())
	}
	return nil
}

// Forget closes and drops the cached connection to addr.
func (hc *HealthChecker) Forget(addr string) {
	hc.mu.Lock()
	conn, exists := hc.conns[addr]
	delete(hc.conns, addr)
	hc.mu.Unlock()

	if exists {
		conn.Close()
	}
}

// Close closes every cached connection.
func (hc *HealthChecker) Close() error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	var errs error
	for addr, conn := range hc.conns {
		errs = multierr.Append(errs, conn.Close())
		delete(hc.conns, addr)
	}
	return errs
}

func (hc *HealthChecker) conn(addr string) (*grpc.ClientConn, error) {
	hc.mu.RLock()
	conn, exists := hc.conns[addr]
	hc.mu.RUnlock()
	if exists {
		return conn, nil
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := hc.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	hc.conns[addr] = conn
	return conn, nil
}
