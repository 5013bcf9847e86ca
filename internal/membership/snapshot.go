package membership

import (
	"ringproxy/internal/ring"
)

// Snapshot is an immutable view of the registry and the ring.
type Snapshot struct {
	ring     *ring.Ring
	replicas []*Replica          // registration order
	index    map[string]*Replica // hostname -> replica
}

func newSnapshot(r *ring.Ring) *Snapshot {
	return &Snapshot{
		ring:  r,
		index: make(map[string]*Replica),
	}
}

// clone returns a private copy for the next mutation. Replicas are shared.
func (s *Snapshot) clone() *Snapshot {
	index := make(map[string]*Replica, len(s.index))
	for hostname, rep := range s.index {
		index[hostname] = rep
	}
	return &Snapshot{
		ring:     s.ring.Clone(),
		replicas: append([]*Replica(nil), s.replicas...),
		index:    index,
	}
}

// register adds a replica to the registry and claims its ring slots.
// The snapshot is unchanged on error.
func (s *Snapshot) register(rep *Replica) ([]int, error) {
	slots, err := s.ring.Place(rep.Hostname)
	if err != nil {
		return nil, err
	}
	s.replicas = append(s.replicas, rep)
	s.index[rep.Hostname] = rep
	return slots, nil
}

// unregister removes a replica and clears every slot referencing it.
// It returns the number of freed slots.
func (s *Snapshot) unregister(hostname string) int {
	if _, exists := s.index[hostname]; !exists {
		return 0
	}
	delete(s.index, hostname)
	for i, rep := range s.replicas {
		if rep.Hostname == hostname {
			s.replicas = append(s.replicas[:i], s.replicas[i+1:]...)
			break
		}
	}
	return s.ring.Evict(hostname)
}

// Len returns the number of registered replicas.
func (s *Snapshot) Len() int {
	return len(s.replicas)
}

// Get returns the replica registered under hostname.
func (s *Snapshot) Get(hostname string) (*Replica, bool) {
	rep, exists := s.index[hostname]
	return rep, exists
}

// Has reports whether hostname is registered.
func (s *Snapshot) Has(hostname string) bool {
	_, exists := s.index[hostname]
	return exists
}

// Replicas returns the registered replicas in registration order.
func (s *Snapshot) Replicas() []*Replica {
	return append([]*Replica(nil), s.replicas...)
}

// Hostnames returns the registered hostnames in registration order.
func (s *Snapshot) Hostnames() []string {
	hostnames := make([]string, 0, len(s.replicas))
	for _, rep := range s.replicas {
		hostnames = append(hostnames, rep.Hostname)
	}
	return hostnames
}

// AliveCount returns the number of replicas eligible for routing.
func (s *Snapshot) AliveCount() int {
	n := 0
	for _, rep := range s.replicas {
		if rep.Alive() {
			n++
		}
	}
	return n
}

// Slots returns the ring slots claimed by hostname.
func (s *Snapshot) Slots(hostname string) []int {
	return s.ring.Slots(hostname)
}

// Layout returns a copy of the slot table; empty slots are "".
func (s *Snapshot) Layout() []string {
	return s.ring.Layout()
}

// RingSize returns M.
func (s *Snapshot) RingSize() int {
	return s.ring.Size()
}

// VNodes returns K.
func (s *Snapshot) VNodes() int {
	return s.ring.VNodes()
}

// OccupiedSlots returns the number of claimed ring slots.
func (s *Snapshot) OccupiedSlots() int {
	return s.ring.Occupied()
}

// FreeSlots returns the number of empty ring slots.
func (s *Snapshot) FreeSlots() int {
	return s.ring.Free()
}

// HomeSlot returns the home slot of key.
func (s *Snapshot) HomeSlot(key string) int {
	return s.ring.Placement().HomeSlot(key)
}

// Probe walks the ring from the key's home slot and returns the first alive
// replica within K slots, or nil.
func (s *Snapshot) Probe(key string) (ring.ProbeResult, *Replica) {
	result := s.ring.Probe(key, func(id string) bool {
		rep, exists := s.index[id]
		return exists && rep.Alive()
	})
	if !result.Found() {
		return result, nil
	}
	return result, s.index[result.Owner]
}
