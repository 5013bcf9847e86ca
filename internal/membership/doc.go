// Package membership owns the replica registry and the hash ring.
//
// The Manager is the only writer. Every add or remove builds the next
// registry and ring in a private copy and publishes it with a single atomic
// swap, so readers always see one complete Snapshot. Mutations are
// serialized; provisioning and teardown of replicas happen under the
// mutation lock but never in reader-visible state.
package membership
