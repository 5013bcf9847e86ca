package it

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"ringproxy/internal/api"
	"ringproxy/internal/health"
	"ringproxy/internal/lifecycle"
	"ringproxy/internal/membership"
	"ringproxy/internal/metrics"
	"ringproxy/internal/routing"
)

// Cluster is a balancer with in-process replicas behind an httptest server.
type Cluster struct {
	Manager  *membership.Manager
	Router   *routing.Router
	Registry *prometheus.Registry

	provisioner *crashableProvisioner
	checker     *lifecycle.HealthChecker
	monitor     *health.Monitor
	server      *httptest.Server
}

// crashableProvisioner lets tests kill a replica behind the manager's back.
type crashableProvisioner struct {
	*lifecycle.InProcess

	mu      sync.Mutex
	crashed map[string]bool
}

func (p *crashableProvisioner) crash(ctx context.Context, hostname string) error {
	if err := p.InProcess.Decommission(ctx, hostname); err != nil {
		return err
	}
	p.mu.Lock()
	p.crashed[hostname] = true
	p.mu.Unlock()
	return nil
}

// Decommission treats an already crashed replica as torn down.
func (p *crashableProvisioner) Decommission(ctx context.Context, hostname string) error {
	p.mu.Lock()
	crashed := p.crashed[hostname]
	delete(p.crashed, hostname)
	p.mu.Unlock()
	if crashed {
		return nil
	}
	return p.InProcess.Decommission(ctx, hostname)
}

// NewCluster creates a balancer with an empty ring of size slots, K vnodes
// per replica and a health probe every probeInterval.
func NewCluster(size, vnodes int, probeInterval time.Duration, logger logr.Logger) (*Cluster, error) {
	reg := prometheus.NewRegistry()
	mtr := metrics.New(reg)

	provisioner := &crashableProvisioner{
		InProcess: lifecycle.NewInProcess(logger),
		crashed:   make(map[string]bool),
	}
	manager, err := membership.NewManager(membership.Options{
		RingSize:     size,
		VirtualNodes: vnodes,
		Provisioner:  provisioner,
		Rand:         rand.New(rand.NewSource(11)),
		Logger:       logger,
		Metrics:      mtr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}

	checker := lifecycle.NewHealthChecker()
	router := routing.NewRouter(manager, logger, mtr)
	c := &Cluster{
		Manager:     manager,
		Router:      router,
		Registry:    reg,
		provisioner: provisioner,
		checker:     checker,
		monitor:     health.NewMonitor(manager, checker, probeInterval, probeInterval, logger, mtr),
		server:      httptest.NewServer(api.NewServer(manager, router, logger).Handler()),
	}
	c.monitor.Start()
	return c, nil
}

// URL returns the base URL of the balancer.
func (c *Cluster) URL() string {
	return c.server.URL
}

// Do sends a request to the balancer and returns status, replica header and body.
func (c *Cluster) Do(ctx context.Context, method, path, body string) (int, string, string, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server.URL+path, reader)
	if err != nil {
		return 0, "", "", err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", "", err
	}
	return resp.StatusCode, resp.Header.Get(api.ReplicaHeader), string(data), nil
}

// KillReplica stops a replica without telling the manager.
func (c *Cluster) KillReplica(ctx context.Context, hostname string) error {
	if !c.Manager.Snapshot().Has(hostname) {
		return fmt.Errorf("replica %s not found", hostname)
	}
	return c.provisioner.crash(ctx, hostname)
}

// WaitForState polls until the replica reaches state or timeout elapses.
func (c *Cluster) WaitForState(ctx context.Context, hostname string, state membership.State, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		rep, ok := c.Manager.Snapshot().Get(hostname)
		if !ok {
			return fmt.Errorf("replica %s not found", hostname)
		}
		if rep.State() == state {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for %s to become %s (is %s)", hostname, state, rep.State())
			}
		}
	}
}

// Stop shuts down the balancer and every replica.
func (c *Cluster) Stop() {
	c.monitor.Stop()
	c.server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = c.Manager.Shutdown(ctx)
	_ = c.checker.Close()
}
