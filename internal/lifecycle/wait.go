package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// Checker probes the health endpoint at addr.
type Checker interface {
	Check(ctx context.Context, addr string) error
}

// WaitReady polls addr every interval until it reports healthy, ctx is done
// or timeout elapses.
func WaitReady(ctx context.Context, checker Checker, addr string, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		lastErr = checker.Check(checkCtx, addr)
		cancel()
		if lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for %s to be ready: %w", addr, lastErr)
			}
		}
	}
}
