package ring

import (
	"errors"
	"fmt"
	"testing"
)

// tableHash returns a hash that looks inputs up in a fixed table (0 if absent).
func tableHash(table map[string]uint64) HashFunc {
	return func(data []byte) uint64 {
		return table[string(data)]
	}
}

func mustNew(t *testing.T, size, vnodes int, hash HashFunc) *Ring {
	t.Helper()
	r, err := New(size, vnodes, hash)
	if err != nil {
		t.Fatalf("New(%d, %d) error = %v", size, vnodes, err)
	}
	return r
}

func TestNew_InvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		vnodes int
	}{
		{name: "zero size", size: 0, vnodes: 2},
		{name: "negative size", size: -4, vnodes: 2},
		{name: "zero vnodes", size: 8, vnodes: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.size, tt.vnodes, nil); err == nil {
				t.Errorf("New(%d, %d) expected error", tt.size, tt.vnodes)
			}
		})
	}
}

func TestRing_PlaceClaimsVirtualSlots(t *testing.T) {
	hash := tableHash(map[string]uint64{"A-vnode-0": 1, "A-vnode-1": 5})
	r := mustNew(t, 8, 2, hash)

	slots, err := r.Place("A")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if len(slots) != 2 || slots[0] != 1 || slots[1] != 5 {
		t.Errorf("Place() = %v, want [1 5]", slots)
	}
	for _, s := range []int{1, 5} {
		if owner, ok := r.Owner(s); !ok || owner != "A" {
			t.Errorf("Owner(%d) = %q, %v; want A", s, owner, ok)
		}
	}
	if r.Occupied() != 2 || r.Free() != 6 {
		t.Errorf("Occupied/Free = %d/%d, want 2/6", r.Occupied(), r.Free())
	}
}

func TestRing_PlaceCollisionProbesForward(t *testing.T) {
	hash := tableHash(map[string]uint64{
		"A-vnode-0": 1, "A-vnode-1": 5,
		"B-vnode-0": 1, "B-vnode-1": 7, // 1 taken -> 2
		"C-vnode-0": 7, "C-vnode-1": 7, // 7 taken -> wraps to 0; then 7,0,1,2 taken -> 3
	})
	r := mustNew(t, 8, 2, hash)

	for _, id := range []string{"A", "B", "C"} {
		if _, err := r.Place(id); err != nil {
			t.Fatalf("Place(%s) error = %v", id, err)
		}
	}

	want := []string{"C", "A", "B", "C", "", "A", "", "B"}
	got := r.Layout()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d = %q, want %q (layout %v)", i, got[i], want[i], got)
		}
	}
}

func TestRing_PlaceNeverOverwrites(t *testing.T) {
	r := mustNew(t, 64, 8, nil)
	if _, err := r.Place("old"); err != nil {
		t.Fatal(err)
	}
	before := r.Slots("old")

	for i := 0; i < 5; i++ {
		if _, err := r.Place(fmt.Sprintf("new-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	for _, s := range before {
		if owner, _ := r.Owner(s); owner != "old" {
			t.Errorf("slot %d owned by %q after placing others, want old", s, owner)
		}
	}
}

func TestRing_PlaceErrors(t *testing.T) {
	r := mustNew(t, 4, 2, nil)
	if _, err := r.Place(""); err == nil {
		t.Error("Place(\"\") expected error")
	}
	if _, err := r.Place("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Place("a"); !errors.Is(err, ErrAlreadyPlaced) {
		t.Errorf("Place(a) twice error = %v, want ErrAlreadyPlaced", err)
	}
	if _, err := r.Place("b"); err != nil {
		t.Fatal(err)
	}

	layout := r.Layout()
	if _, err := r.Place("c"); !errors.Is(err, ErrRingFull) {
		t.Errorf("Place on full ring error = %v, want ErrRingFull", err)
	}
	for i, id := range r.Layout() {
		if id != layout[i] {
			t.Errorf("failed Place mutated slot %d", i)
		}
	}
}

func TestRing_Evict(t *testing.T) {
	r := mustNew(t, 32, 4, nil)
	for _, id := range []string{"a", "b"} {
		if _, err := r.Place(id); err != nil {
			t.Fatal(err)
		}
	}

	if freed := r.Evict("a"); freed != 4 {
		t.Errorf("Evict(a) = %d, want 4", freed)
	}
	for i, id := range r.Layout() {
		if id == "a" {
			t.Errorf("slot %d still references evicted replica", i)
		}
	}
	if len(r.Slots("b")) != 4 {
		t.Errorf("Slots(b) = %v, want 4 slots", r.Slots("b"))
	}
	if freed := r.Evict("missing"); freed != 0 {
		t.Errorf("Evict(missing) = %d, want 0", freed)
	}
}

func TestRing_CloneIsIndependent(t *testing.T) {
	r := mustNew(t, 16, 2, nil)
	if _, err := r.Place("a"); err != nil {
		t.Fatal(err)
	}
	c := r.Clone()
	if _, err := c.Place("b"); err != nil {
		t.Fatal(err)
	}
	c.Evict("a")

	if len(r.Slots("a")) != 2 {
		t.Error("mutating clone changed original slots of a")
	}
	if len(r.Slots("b")) != 0 {
		t.Error("mutating clone added b to original")
	}
}

// Ring size 8, K=2, replica A at slots 1 and 5.
func TestRing_ProbeSmallRing(t *testing.T) {
	hash := tableHash(map[string]uint64{
		"A-vnode-0": 1, "A-vnode-1": 5,
		"k0": 0, "k2": 2, "k4": 4, "k5": 5,
	})
	r := mustNew(t, 8, 2, hash)
	if _, err := r.Place("A"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key       string
		wantOwner string
		wantSlot  int
		probes    int
	}{
		{key: "k0", wantOwner: "A", wantSlot: 1, probes: 2},
		{key: "k2", wantOwner: "", wantSlot: -1, probes: 2},
		{key: "k4", wantOwner: "A", wantSlot: 5, probes: 2},
		{key: "k5", wantOwner: "A", wantSlot: 5, probes: 1},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := r.Probe(tt.key, nil)
			if got.Owner != tt.wantOwner || got.Slot != tt.wantSlot || got.Probes != tt.probes {
				t.Errorf("Probe(%s) = %+v, want owner=%q slot=%d probes=%d",
					tt.key, got, tt.wantOwner, tt.wantSlot, tt.probes)
			}
		})
	}
}

func TestRing_ProbeSkipsUnusable(t *testing.T) {
	hash := tableHash(map[string]uint64{
		"A-vnode-0": 3, "B-vnode-0": 4, "key": 3,
	})
	r := mustNew(t, 8, 1, hash)
	for _, id := range []string{"A", "B"} {
		if _, err := r.Place(id); err != nil {
			t.Fatal(err)
		}
	}

	// K=1 bounds the probe to the home slot only.
	if got := r.Probe("key", func(id string) bool { return id != "A" }); got.Found() {
		t.Errorf("Probe() = %+v, want not found within one probe", got)
	}

	r.vnodes = 2
	got := r.Probe("key", func(id string) bool { return id != "A" })
	if got.Owner != "B" || got.Slot != 4 {
		t.Errorf("Probe() = %+v, want B at slot 4", got)
	}
}

func TestRing_EmptyRing(t *testing.T) {
	r := mustNew(t, 512, 9, nil)
	got := r.Probe("any-key", nil)
	if got.Found() {
		t.Error("Expected no owner on empty ring")
	}
	if got.Probes != 9 {
		t.Errorf("Probes = %d, want 9", got.Probes)
	}
}

func TestRing_ProbeBoundedByRingSize(t *testing.T) {
	r := mustNew(t, 4, 10, nil)
	if got := r.Probe("k", nil); got.Probes != 4 {
		t.Errorf("Probes = %d, want 4 (ring size)", got.Probes)
	}
}

func TestHashByName(t *testing.T) {
	for _, name := range HashNames {
		h, err := HashByName(name)
		if err != nil {
			t.Fatalf("HashByName(%s) error = %v", name, err)
		}
		if h([]byte("key")) != h([]byte("key")) {
			t.Errorf("%s is not deterministic", name)
		}
	}
	if _, err := HashByName("sha1"); err == nil {
		t.Error("HashByName(sha1) expected error")
	}
}
