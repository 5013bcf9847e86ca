package ring

import (
	"fmt"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// HashFunc maps arbitrary bytes to a 64-bit digest.
type HashFunc func(data []byte) uint64

const (
	HashMurmur3 = "murmur3"
	HashXXHash  = "xxhash"
	HashFNV     = "fnv"
)

// HashNames lists the hash functions accepted by HashByName.
var HashNames = []string{HashMurmur3, HashXXHash, HashFNV}

// HashByName returns the hash function registered under name.
func HashByName(name string) (HashFunc, error) {
	switch name {
	case HashMurmur3, "":
		return murmur3.Sum64, nil
	case HashXXHash:
		return xxhash.Sum64, nil
	case HashFNV:
		return fnv64a, nil
	default:
		return nil, fmt.Errorf("unknown hash function %q (expected one of %v)", name, HashNames)
	}
}

// fnv64a computes a 64-bit FNV-1a hash.
func fnv64a(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
