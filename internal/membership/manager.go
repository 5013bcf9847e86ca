package membership

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"ringproxy/internal/logging"
	"ringproxy/internal/metrics"
	"ringproxy/internal/ring"
)

const (
	opAdd    = "add"
	opRemove = "remove"

	maxIdentityAttempts = 16
)

// Provisioner starts and stops the process backing a replica.
type Provisioner interface {
	// Provision starts a replica and returns its endpoint once it is ready.
	Provision(ctx context.Context, hostname string) (Endpoint, error)
	// Decommission stops a replica started by Provision.
	Decommission(ctx context.Context, hostname string) error
}

// BatchPolicy decides what happens to an add batch when some replicas fail
// to provision.
type BatchPolicy string

const (
	// PolicyContinue commits the replicas that were provisioned.
	PolicyContinue BatchPolicy = "continue"
	// PolicyRollback tears down the whole batch on the first failure.
	PolicyRollback BatchPolicy = "rollback"
)

// ParseBatchPolicy validates a policy name.
func ParseBatchPolicy(s string) (BatchPolicy, error) {
	switch p := BatchPolicy(s); p {
	case PolicyContinue, PolicyRollback:
		return p, nil
	case "":
		return PolicyContinue, nil
	default:
		return "", fmt.Errorf("unknown batch policy %q (expected %q or %q)", s, PolicyContinue, PolicyRollback)
	}
}

// Options configures a Manager.
type Options struct {
	RingSize     int
	VirtualNodes int
	Hash         ring.HashFunc // nil selects murmur3
	Provisioner  Provisioner
	NewIdentity  func() string // nil selects NewIdentity
	Rand         *rand.Rand    // source for random removal; nil seeds from the clock
	Policy       BatchPolicy
	Logger       logr.Logger
	Metrics      *metrics.Metrics
}

// AddResult describes a committed add.
type AddResult struct {
	Added    []string // hostnames admitted by this call
	Failed   []string // hostnames whose provisioning failed (PolicyContinue)
	Replicas []string // full registry after the call
}

// RemoveResult describes a committed remove.
type RemoveResult struct {
	Removed   []string // hostnames removed because they were named
	Random    []string // hostnames chosen at random to reach the count
	Remaining []string // registry after the call
}

// Total returns the number of removed replicas.
func (r *RemoveResult) Total() int {
	return len(r.Removed) + len(r.Random)
}

// Manager is the single writer of the registry and the ring.
type Manager struct {
	mu          sync.Mutex // serializes Add/Remove
	current     atomic.Pointer[Snapshot]
	provisioner Provisioner
	newIdentity func() string
	rng         *rand.Rand // guarded by mu
	policy      BatchPolicy
	logger      logr.Logger
	metrics     *metrics.Metrics
}

// NewManager creates a manager with an empty registry and ring.
func NewManager(opts Options) (*Manager, error) {
	if opts.Provisioner == nil {
		return nil, errors.New("membership manager requires a provisioner")
	}
	r, err := ring.New(opts.RingSize, opts.VirtualNodes, opts.Hash)
	if err != nil {
		return nil, err
	}
	policy, err := ParseBatchPolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		provisioner: opts.Provisioner,
		newIdentity: opts.NewIdentity,
		rng:         opts.Rand,
		policy:      policy,
		logger:      opts.Logger.WithName("membership"),
		metrics:     opts.Metrics,
	}
	if m.newIdentity == nil {
		m.newIdentity = NewIdentity
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	m.publish(newSnapshot(r))
	return m, nil
}

// Snapshot returns the currently published snapshot. It never blocks.
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// Add provisions n replicas and places each on K ring slots. Hostnames fill
// the first len(hostnames) identities; empty entries and the rest are
// generated.
func (m *Manager) Add(ctx context.Context, n int, hostnames []string) (*AddResult, error) {
	if err := validateBatch(n, hostnames); err != nil {
		m.metrics.RecordMembershipOperation(opAdd, metrics.ResultInvalid)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.current.Load()
	// Division keeps n*K from overflowing for huge counts.
	if fits := current.FreeSlots() / current.VNodes(); n > fits {
		m.metrics.RecordMembershipOperation(opAdd, metrics.ResultInvalid)
		return nil, fmt.Errorf("%w: %d replicas of %d slots requested, room for %d",
			ErrInsufficientSlots, n, current.VNodes(), fits)
	}
	identities, err := m.identities(current, n, hostnames)
	if err != nil {
		m.recordFailure(opAdd, err)
		return nil, err
	}

	var (
		provisioned []*Replica
		failed      []string
		errs        error
	)
	for _, hostname := range identities {
		endpoint, err := m.provisioner.Provision(ctx, hostname)
		if err != nil {
			m.logger.Error(err, "Failed to provision replica", "hostname", hostname)
			failed = append(failed, hostname)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", hostname, err))
			if m.policy == PolicyRollback {
				break
			}
			continue
		}
		m.logger.V(logging.VERBOSE).Info("Provisioned replica", "hostname", hostname, "address", endpoint.HTTPAddr())
		provisioned = append(provisioned, NewReplica(hostname, endpoint))
	}

	if errs != nil && (m.policy == PolicyRollback || len(provisioned) == 0) {
		m.decommissionAll(ctx, provisioned)
		m.metrics.RecordMembershipOperation(opAdd, metrics.ResultError)
		return nil, fmt.Errorf("%w: %w", ErrProvision, errs)
	}

	next := current.clone()
	added := make([]string, 0, len(provisioned))
	for _, rep := range provisioned {
		slots, err := next.register(rep)
		if err != nil {
			// Capacity is checked before provisioning; nothing is published.
			m.decommissionAll(ctx, provisioned)
			m.metrics.RecordMembershipOperation(opAdd, metrics.ResultError)
			return nil, fmt.Errorf("placing replica %s: %w", rep.Hostname, err)
		}
		added = append(added, rep.Hostname)
		m.logger.V(logging.DEBUG).Info("Placed replica", "hostname", rep.Hostname, "slots", slots)
	}
	m.publish(next)

	m.logger.Info("Added replicas", "added", added, "failed", failed, "replicas", next.Len())
	m.metrics.RecordMembershipOperation(opAdd, metrics.ResultSuccess)
	return &AddResult{
		Added:    added,
		Failed:   failed,
		Replicas: next.Hostnames(),
	}, nil
}

// Remove tears down the named replicas, then random ones until n replicas
// have been removed or the registry is empty. Unknown hostnames are skipped.
func (m *Manager) Remove(ctx context.Context, n int, hostnames []string) (*RemoveResult, error) {
	if err := validateBatch(n, hostnames); err != nil {
		m.metrics.RecordMembershipOperation(opRemove, metrics.ResultInvalid)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current.Load().clone()
	result := &RemoveResult{}

	var err error
	for _, hostname := range hostnames {
		if !next.Has(hostname) {
			m.logger.Info("Replica not found for removal, skipping", "hostname", hostname)
			continue
		}
		if err = m.removeOne(ctx, next, hostname); err != nil {
			break
		}
		result.Removed = append(result.Removed, hostname)
	}

	for err == nil && result.Total() < n && next.Len() > 0 {
		victim := next.replicas[m.rng.Intn(next.Len())].Hostname
		if err = m.removeOne(ctx, next, victim); err != nil {
			break
		}
		result.Random = append(result.Random, victim)
	}

	// Completed removals are committed even if a later teardown failed.
	m.publish(next)
	result.Remaining = next.Hostnames()

	if err != nil {
		m.metrics.RecordMembershipOperation(opRemove, metrics.ResultError)
		return nil, fmt.Errorf("%w: %w (removed %v before failing)", ErrDecommission, err,
			append(append([]string(nil), result.Removed...), result.Random...))
	}
	if result.Total() < n {
		m.logger.Info("Registry exhausted before removal count was reached", "requested", n, "removed", result.Total())
	}

	m.logger.Info("Removed replicas", "removed", result.Removed, "random", result.Random, "replicas", next.Len())
	m.metrics.RecordMembershipOperation(opRemove, metrics.ResultSuccess)
	return result, nil
}

// Shutdown removes every registered replica.
func (m *Manager) Shutdown(ctx context.Context) error {
	n := m.Snapshot().Len()
	if n == 0 {
		return nil
	}
	_, err := m.Remove(ctx, n, nil)
	return err
}

// removeOne drains, tears down and unregisters one replica of next.
func (m *Manager) removeOne(ctx context.Context, next *Snapshot, hostname string) error {
	rep, _ := next.Get(hostname)
	prev := rep.drain()

	if err := m.provisioner.Decommission(ctx, hostname); err != nil {
		rep.restore(prev)
		m.logger.Error(err, "Failed to decommission replica", "hostname", hostname)
		return fmt.Errorf("%s: %w", hostname, err)
	}

	freed := next.unregister(hostname)
	m.metrics.ForgetReplica(hostname)
	m.logger.V(logging.DEBUG).Info("Removed replica from ring", "hostname", hostname, "freedSlots", freed)
	return nil
}

// identities resolves the n hostnames of an add batch.
func (m *Manager) identities(current *Snapshot, n int, hostnames []string) ([]string, error) {
	seen := make(map[string]bool, n)
	ids := make([]string, 0, n)

	for i := 0; i < n; i++ {
		var id string
		if i < len(hostnames) && hostnames[i] != "" {
			id = hostnames[i]
			if seen[id] || current.Has(id) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateHostname, id)
			}
		} else {
			generated, err := m.generateIdentity(current, seen)
			if err != nil {
				return nil, err
			}
			id = generated
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Manager) generateIdentity(current *Snapshot, seen map[string]bool) (string, error) {
	for attempt := 0; attempt < maxIdentityAttempts; attempt++ {
		id := m.newIdentity()
		if id != "" && !seen[id] && !current.Has(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique replica identity after %d attempts", maxIdentityAttempts)
}

// decommissionAll tears down replicas that were provisioned but will not be
// committed. Failures are logged.
func (m *Manager) decommissionAll(ctx context.Context, replicas []*Replica) {
	for _, rep := range replicas {
		if err := m.provisioner.Decommission(ctx, rep.Hostname); err != nil {
			m.logger.Error(err, "Failed to roll back replica", "hostname", rep.Hostname)
		}
	}
}

func (m *Manager) publish(next *Snapshot) {
	m.current.Store(next)
	m.metrics.SetMembership(next.Len(), next.OccupiedSlots())
}

func (m *Manager) recordFailure(op string, err error) {
	result := metrics.ResultError
	if errors.Is(err, ErrInvalidRequest) {
		result = metrics.ResultInvalid
	}
	m.metrics.RecordMembershipOperation(op, result)
}
