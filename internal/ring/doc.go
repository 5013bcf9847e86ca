// Package ring implements a fixed-size consistent hashing ring.
// Replicas claim K virtual slots out of M, chosen from their identity alone,
// and keys are routed by probing forward from their home slot. Colliding
// placements are resolved by linear probing so an occupied slot is never
// overwritten.
package ring
