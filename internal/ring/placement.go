package ring

import "strconv"

// Placement maps keys and virtual nodes to slots of a ring of fixed size.
// It is pure: the result depends only on its inputs and the ring size.
type Placement struct {
	size int
	hash HashFunc
}

// NewPlacement creates a placement function over size slots.
// A nil hash selects murmur3.
func NewPlacement(size int, hash HashFunc) Placement {
	if hash == nil {
		hash, _ = HashByName(HashMurmur3)
	}
	return Placement{size: size, hash: hash}
}

// Size returns the number of slots the placement maps into.
func (p Placement) Size() int {
	return p.size
}

// HomeSlot returns the slot a key maps to before any probing.
func (p Placement) HomeSlot(key string) int {
	return p.slot([]byte(key))
}

// VirtualSlot returns the preferred slot of the given virtual node of a replica.
// It does not depend on registry order or on other slots.
func (p Placement) VirtualSlot(id string, vindex int) int {
	buf := make([]byte, 0, len(id)+len("-vnode-")+4)
	buf = append(buf, id...)
	buf = append(buf, "-vnode-"...)
	buf = strconv.AppendInt(buf, int64(vindex), 10)
	return p.slot(buf)
}

func (p Placement) slot(data []byte) int {
	return int(p.hash(data) % uint64(p.size))
}
