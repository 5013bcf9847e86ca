package membership

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is wrapped by every validation failure. No state is
	// mutated when it is returned.
	ErrInvalidRequest = errors.New("invalid membership request")

	ErrInvalidCount      = fmt.Errorf("%w: count must be a positive number", ErrInvalidRequest)
	ErrTooManyHostnames  = fmt.Errorf("%w: hostname list longer than count", ErrInvalidRequest)
	ErrDuplicateHostname = fmt.Errorf("%w: duplicate hostname", ErrInvalidRequest)
	ErrInsufficientSlots = fmt.Errorf("%w: not enough free ring slots", ErrInvalidRequest)

	// ErrProvision wraps lifecycle failures during add.
	ErrProvision = errors.New("replica provisioning failed")
	// ErrDecommission wraps lifecycle failures during remove.
	ErrDecommission = errors.New("replica decommissioning failed")
)

// validateBatch checks the shape shared by add and remove requests.
func validateBatch(n int, hostnames []string) error {
	if n <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCount, n)
	}
	if len(hostnames) > n {
		return fmt.Errorf("%w: %d hostnames for %d replicas", ErrTooManyHostnames, len(hostnames), n)
	}
	return nil
}
