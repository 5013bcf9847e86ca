// Package metrics defines the Prometheus collectors exported by the balancer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ringproxy"

// Operation result labels.
const (
	ResultSuccess = "success"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Metrics holds the balancer collectors. A nil *Metrics is valid and records
// nothing, so components can be built without telemetry in tests.
type Metrics struct {
	requests        *prometheus.CounterVec
	routingFailures prometheus.Counter
	routeProbes     prometheus.Histogram
	replicas        prometheus.Gauge
	occupiedSlots   prometheus.Gauge
	membershipOps   *prometheus.CounterVec
	replicaUp       *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests routed to each replica.",
		}, []string{"replica"}),
		routingFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_failures_total",
			Help:      "Total number of requests for which no replica was found within the probe bound.",
		}),
		routeProbes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_probes",
			Help:      "Number of ring slots examined per routing decision.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 32},
		}),
		replicas: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replicas",
			Help:      "Current number of registered replicas.",
		}),
		occupiedSlots: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_occupied_slots",
			Help:      "Current number of occupied ring slots.",
		}),
		membershipOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_operations_total",
			Help:      "Total number of membership operations by operation and result.",
		}, []string{"operation", "result"}),
		replicaUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replica_up",
			Help:      "Whether the replica answered its last health probe (1) or not (0).",
		}, []string{"replica"}),
	}
}

// RecordRoute records one routing decision.
func (m *Metrics) RecordRoute(replica string, probes int) {
	if m == nil {
		return
	}
	m.routeProbes.Observe(float64(probes))
	if replica == "" {
		m.routingFailures.Inc()
		return
	}
	m.requests.WithLabelValues(replica).Inc()
}

// SetMembership records the registry size and ring occupancy.
func (m *Metrics) SetMembership(replicas, occupiedSlots int) {
	if m == nil {
		return
	}
	m.replicas.Set(float64(replicas))
	m.occupiedSlots.Set(float64(occupiedSlots))
}

// RecordMembershipOperation counts an add or remove outcome.
func (m *Metrics) RecordMembershipOperation(operation, result string) {
	if m == nil {
		return
	}
	m.membershipOps.WithLabelValues(operation, result).Inc()
}

// SetReplicaUp records the last health probe outcome of a replica.
func (m *Metrics) SetReplicaUp(replica string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.replicaUp.WithLabelValues(replica).Set(v)
}

// ForgetReplica drops the per-replica series of a removed replica.
func (m *Metrics) ForgetReplica(replica string) {
	if m == nil {
		return
	}
	m.requests.DeleteLabelValues(replica)
	m.replicaUp.DeleteLabelValues(replica)
}
