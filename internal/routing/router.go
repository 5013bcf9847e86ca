// Package routing maps request keys to replicas by probing the current ring
// snapshot.
package routing

import (
	"errors"

	"github.com/go-logr/logr"

	"ringproxy/internal/logging"
	"ringproxy/internal/membership"
	"ringproxy/internal/metrics"
)

// ErrNoServer is returned when no alive replica is found within K probes.
var ErrNoServer = errors.New("no available server found")

// SnapshotSource provides the ring snapshot to route against.
type SnapshotSource interface {
	Snapshot() *membership.Snapshot
}

// Decision is the outcome of routing one key.
type Decision struct {
	Key      string
	HomeSlot int
	Slot     int // -1 when no replica was found
	Probes   int
	Replica  *membership.Replica
}

// Router resolves keys against a snapshot source. It holds no mutable state
// and is safe for concurrent use.
type Router struct {
	source  SnapshotSource
	logger  logr.Logger
	metrics *metrics.Metrics
}

// NewRouter creates a router reading from source.
func NewRouter(source SnapshotSource, logger logr.Logger, m *metrics.Metrics) *Router {
	return &Router{
		source:  source,
		logger:  logger.WithName("router"),
		metrics: m,
	}
}

// Route probes from the key's home slot and returns the first alive replica
// within K slots. Each call reads exactly one snapshot.
func (r *Router) Route(key string) (Decision, error) {
	snap := r.source.Snapshot()
	result, rep := snap.Probe(key)

	decision := Decision{
		Key:      key,
		HomeSlot: result.Home,
		Slot:     result.Slot,
		Probes:   result.Probes,
		Replica:  rep,
	}
	if rep == nil {
		r.metrics.RecordRoute("", result.Probes)
		r.logger.V(logging.DEBUG).Info("No replica within probe bound", "key", key, "homeSlot", result.Home, "probes", result.Probes)
		return decision, ErrNoServer
	}

	r.metrics.RecordRoute(rep.Hostname, result.Probes)
	r.logger.V(logging.TRACE).Info("Routed request", "key", key, "replica", rep.Hostname, "slot", result.Slot, "probes", result.Probes)
	return decision, nil
}

// ServerForRequest returns the replica that serves key.
func (r *Router) ServerForRequest(key string) (*membership.Replica, error) {
	decision, err := r.Route(key)
	if err != nil {
		return nil, err
	}
	return decision.Replica, nil
}
