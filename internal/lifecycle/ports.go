package lifecycle

import (
	"fmt"
	"net"
)

// freePort asks the kernel for an unused port on host. The port is released
// before returning.
func freePort(host string) (int, error) {
	lis, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port, nil
}
