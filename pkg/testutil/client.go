package testutil

import (
	"testing"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/client"
	"github.com/lightforgemedia/go-actioncable/pkg/transport"
)

// ClientOptions contains options for creating a test client.
type ClientOptions struct {
	Logger            bool // Use the default logger
	AutoReconnect     bool
	StaleThreshold    time.Duration
	PollInterval      time.Duration
	ReconnectDelay    time.Duration
	Connect           bool // Call Connect before returning
	WaitForConnection bool
	ConnectionTimeout time.Duration
}

// DefaultClientOptions returns the default options for creating a test client.
// The watchdog is off; tests that exercise it turn it on with short timings.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Logger:            true,
		AutoReconnect:     false,
		StaleThreshold:    200 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
		Connect:           true,
		WaitForConnection: true,
		ConnectionTimeout: 2 * time.Second,
	}
}

// NewTestClient creates a client over tr with the default test options,
// connects it and closes it on cleanup.
func NewTestClient(t *testing.T, tr transport.Transport, opts ...client.Option) *client.Client {
	t.Helper()
	return NewTestClientWithOptions(t, tr, DefaultClientOptions(), opts...)
}

// NewTestClientWithOptions creates a client with the specified options.
// Functional options are applied after options.
func NewTestClientWithOptions(t *testing.T, tr transport.Transport, options ClientOptions, opts ...client.Option) *client.Client {
	t.Helper()

	base := []client.Option{
		client.WithAutoReconnect(options.AutoReconnect),
		client.WithStaleThreshold(options.StaleThreshold),
		client.WithPollInterval(options.PollInterval, options.PollInterval, 1),
		client.WithReconnectDelay(options.ReconnectDelay),
	}
	if options.Logger {
		base = append(base, client.WithLogger(DefaultLogger))
	}
	cli := client.New(tr, append(base, opts...)...)
	t.Cleanup(func() {
		cli.Close()
	})

	if options.Connect {
		cli.Connect()
		if options.WaitForConnection {
			if err := WaitForConnected(t, cli, options.ConnectionTimeout); err != nil {
				t.Fatalf("NewTestClient: %v", err)
			}
		}
	}
	return cli
}
