package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/client"
)

// WaitForConnected waits for the client to report a live connection.
func WaitForConnected(t *testing.T, c *client.Client, timeout time.Duration) error {
	t.Helper()
	return WaitFor(t, "client connected", timeout, c.IsConnected)
}

// WaitForDisconnected waits for the client to report no connection.
func WaitForDisconnected(t *testing.T, c *client.Client, timeout time.Duration) error {
	t.Helper()
	return WaitFor(t, "client disconnected", timeout, func() bool { return !c.IsConnected() })
}

// WaitFor is a generic utility to wait for a condition to be true.
// It returns nil if the condition becomes true within the timeout.
// It returns an error if the condition does not become true within the timeout.
func WaitFor(t *testing.T, description string, timeout time.Duration, condition func() bool) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if condition() {
		return nil
	}
	return fmt.Errorf("condition '%s' not met within %v", description, timeout)
}

// WaitForWithContext is WaitFor bounded by ctx instead of a timeout.
func WaitForWithContext(ctx context.Context, t *testing.T, description string, condition func() bool) error {
	t.Helper()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled while waiting for condition '%s': %v", description, ctx.Err())
		case <-ticker.C:
		}
	}
}
