// Package lifecycle starts and stops the processes backing replicas and
// checks their health over the gRPC health protocol.
package lifecycle
