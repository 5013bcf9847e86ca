package ring

import (
	"errors"
	"fmt"
)

var (
	// ErrRingFull is returned when a replica cannot claim all of its virtual slots.
	ErrRingFull = errors.New("ring has too few free slots")
	// ErrAlreadyPlaced is returned when a replica already owns slots on the ring.
	ErrAlreadyPlaced = errors.New("replica already placed on ring")
)

// empty marks an unclaimed slot.
const empty = ""

// Ring is a fixed-size slot table. Each slot is empty or holds the identity
// of exactly one replica.
//
// A Ring is not safe for concurrent mutation. Writers mutate a private Clone
// and publish it; published rings are treated as read-only.
type Ring struct {
	placement Placement
	vnodes    int
	slots     []string
	owned     map[string][]int // replica ID -> claimed slots
}

// New creates an empty ring of size slots where every replica claims
// vnodesPerNode slots. A nil hash selects murmur3.
func New(size, vnodesPerNode int, hash HashFunc) (*Ring, error) {
	if size <= 0 {
		return nil, fmt.Errorf("ring size must be positive, got %d", size)
	}
	if vnodesPerNode <= 0 {
		return nil, fmt.Errorf("virtual nodes per replica must be positive, got %d", vnodesPerNode)
	}
	return &Ring{
		placement: NewPlacement(size, hash),
		vnodes:    vnodesPerNode,
		slots:     make([]string, size),
		owned:     make(map[string][]int),
	}, nil
}

// Size returns the number of slots (M).
func (r *Ring) Size() int {
	return len(r.slots)
}

// VNodes returns the number of virtual slots per replica (K).
func (r *Ring) VNodes() int {
	return r.vnodes
}

// Placement returns the placement function of the ring.
func (r *Ring) Placement() Placement {
	return r.placement
}

// Owner returns the replica occupying slot, if any.
func (r *Ring) Owner(slot int) (string, bool) {
	if slot < 0 || slot >= len(r.slots) {
		return empty, false
	}
	id := r.slots[slot]
	return id, id != empty
}

// Slots returns the slots currently claimed by a replica, in claim order.
func (r *Ring) Slots(id string) []int {
	return append([]int(nil), r.owned[id]...)
}

// Occupied returns the number of claimed slots.
func (r *Ring) Occupied() int {
	n := 0
	for _, claimed := range r.owned {
		n += len(claimed)
	}
	return n
}

// Free returns the number of empty slots.
func (r *Ring) Free() int {
	return len(r.slots) - r.Occupied()
}

// Layout returns a copy of the slot table; empty slots are "".
func (r *Ring) Layout() []string {
	return append([]string(nil), r.slots...)
}

// Clone returns a deep copy that can be mutated independently.
func (r *Ring) Clone() *Ring {
	owned := make(map[string][]int, len(r.owned))
	for id, claimed := range r.owned {
		owned[id] = append([]int(nil), claimed...)
	}
	return &Ring{
		placement: r.placement,
		vnodes:    r.vnodes,
		slots:     append([]string(nil), r.slots...),
		owned:     owned,
	}
}

// Place claims K slots for a replica. Each virtual node starts at its
// VirtualSlot; if that slot is taken it probes forward, wrapping at M, to
// the first empty one. Occupied slots are never overwritten.
// The ring is left untouched on error.
func (r *Ring) Place(id string) ([]int, error) {
	if id == empty {
		return nil, errors.New("replica ID cannot be empty")
	}
	if _, exists := r.owned[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPlaced, id)
	}
	if free := r.Free(); free < r.vnodes {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrRingFull, r.vnodes, free)
	}

	claimed := make([]int, 0, r.vnodes)
	for i := 0; i < r.vnodes; i++ {
		slot := r.placement.VirtualSlot(id, i)
		// Terminates: at least K-i slots are still free.
		for r.slots[slot] != empty {
			slot = (slot + 1) % len(r.slots)
		}
		r.slots[slot] = id
		claimed = append(claimed, slot)
	}
	r.owned[id] = claimed
	return append([]int(nil), claimed...), nil
}

// Evict clears every slot that references the replica and returns how many
// slots were freed.
func (r *Ring) Evict(id string) int {
	claimed, exists := r.owned[id]
	if !exists {
		return 0
	}
	for _, slot := range claimed {
		if r.slots[slot] == id {
			r.slots[slot] = empty
		}
	}
	delete(r.owned, id)
	return len(claimed)
}

// ProbeResult describes one routing probe.
type ProbeResult struct {
	Home   int    // home slot of the key
	Slot   int    // slot of the chosen replica, -1 if none
	Probes int    // slots examined
	Owner  string // chosen replica, "" if none
}

// Found reports whether the probe ended on a usable replica.
func (p ProbeResult) Found() bool {
	return p.Owner != empty
}

// Probe walks forward from the key's home slot and returns the first slot
// whose owner satisfies usable. At most min(K, M) slots are examined.
func (r *Ring) Probe(key string, usable func(id string) bool) ProbeResult {
	home := r.placement.HomeSlot(key)
	result := ProbeResult{Home: home, Slot: -1}

	limit := r.vnodes
	if limit > len(r.slots) {
		limit = len(r.slots)
	}

	slot := home
	for result.Probes < limit {
		id := r.slots[slot]
		result.Probes++
		if id != empty && (usable == nil || usable(id)) {
			result.Slot = slot
			result.Owner = id
			return result
		}
		slot = (slot + 1) % len(r.slots)
	}
	return result
}
