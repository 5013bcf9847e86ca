// Package health keeps the liveness flag of every registered replica current
// by probing its gRPC health service.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"ringproxy/internal/logging"
	"ringproxy/internal/membership"
	"ringproxy/internal/metrics"
)

// SnapshotSource provides the replicas to probe.
type SnapshotSource interface {
	Snapshot() *membership.Snapshot
}

// Checker probes one health endpoint.
type Checker interface {
	Check(ctx context.Context, addr string) error
}

// Monitor periodically probes every replica of the current snapshot.
type Monitor struct {
	source   SnapshotSource
	checker  Checker
	interval time.Duration
	timeout  time.Duration
	logger   logr.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. A timeout of zero uses the interval.
func NewMonitor(source SnapshotSource, checker Checker, interval, timeout time.Duration, logger logr.Logger, m *metrics.Metrics) *Monitor {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		source:   source,
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		logger:   logger.WithName("health"),
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the probe loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.ProbeAll()
			}
		}
	}()
}

// Stop stops the probe loop and waits for in-flight probes.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// ProbeAll checks every replica of the current snapshot once, in parallel.
func (m *Monitor) ProbeAll() {
	replicas := m.source.Snapshot().Replicas()

	var wg sync.WaitGroup
	for _, rep := range replicas {
		if rep.Endpoint.HealthPort == 0 {
			continue
		}
		wg.Add(1)
		go func(rep *membership.Replica) {
			defer wg.Done()
			m.probe(rep)
		}(rep)
	}
	wg.Wait()
}

func (m *Monitor) probe(rep *membership.Replica) {
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	err := m.checker.Check(ctx, rep.Endpoint.HealthAddr())
	if m.ctx.Err() != nil {
		return
	}
	reachable := err == nil

	if rep.SetReachable(reachable) {
		if reachable {
			m.logger.Info("Replica is reachable again", "hostname", rep.Hostname)
		} else {
			m.logger.Info("Marked replica UNREACHABLE (probe failed)", "hostname", rep.Hostname, "error", err.Error())
		}
	} else if err != nil {
		m.logger.V(logging.DEBUG).Info("Health probe failed", "hostname", rep.Hostname, "state", rep.State().String(), "error", err.Error())
	}

	if rep.State() != membership.Draining {
		m.metrics.SetReplicaUp(rep.Hostname, reachable)
	}
}
