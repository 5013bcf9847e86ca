package membership

import (
	"net"
	"strconv"
	"sync/atomic"
)

// State is the liveness state of a replica.
type State int32

const (
	// Alive replicas are eligible for routing.
	Alive State = iota
	// Unreachable replicas failed their last health probe.
	Unreachable
	// Draining replicas are being torn down and never return to Alive.
	Draining
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Unreachable:
		return "UNREACHABLE"
	case Draining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Endpoint is the network location of a provisioned replica.
type Endpoint struct {
	Address    string
	Port       int // HTTP port
	HealthPort int // gRPC health port, 0 if not served
}

// HTTPAddr returns the host:port of the replica's HTTP listener.
func (e Endpoint) HTTPAddr() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// HealthAddr returns the host:port of the replica's gRPC health listener.
func (e Endpoint) HealthAddr() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.HealthPort))
}

// Replica is one backend instance. The liveness state is shared by every
// snapshot that references the replica and may change without a new
// snapshot being published.
type Replica struct {
	Hostname string
	Endpoint Endpoint
	state    atomic.Int32
}

// NewReplica creates an alive replica.
func NewReplica(hostname string, endpoint Endpoint) *Replica {
	return &Replica{Hostname: hostname, Endpoint: endpoint}
}

// State returns the current liveness state.
func (r *Replica) State() State {
	return State(r.state.Load())
}

// Alive reports whether the replica may receive requests.
func (r *Replica) Alive() bool {
	return r.State() == Alive
}

// SetReachable records a health probe outcome and reports whether the state
// changed. Draining replicas are left untouched.
func (r *Replica) SetReachable(reachable bool) bool {
	from, to := Unreachable, Alive
	if !reachable {
		from, to = Alive, Unreachable
	}
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// drain marks the replica as draining and returns its previous state.
func (r *Replica) drain() State {
	return State(r.state.Swap(int32(Draining)))
}

// restore undoes drain after a failed teardown.
func (r *Replica) restore(prev State) {
	r.state.CompareAndSwap(int32(Draining), int32(prev))
}
