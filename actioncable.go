// actioncable.go
package actioncable

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/client"
	"github.com/lightforgemedia/go-actioncable/pkg/config"
	"github.com/lightforgemedia/go-actioncable/pkg/transport"
	"github.com/lightforgemedia/go-actioncable/pkg/transport/coderws"
	"github.com/lightforgemedia/go-actioncable/pkg/transport/gorillaws"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
)

// Re-export core types
type (
	Client           = client.Client
	Options          = client.Options
	Option           = client.Option
	Subscription     = client.Subscription
	Tap              = client.Tap
	Identifier       = channel.Identifier
	Message          = wire.Message
	MessageType      = wire.MessageType
	DisconnectReason = wire.DisconnectReason
	Body             = wire.Body
	Codec            = wire.Codec
	Registry         = wire.Registry
	Transport        = transport.Transport
	TransportEvents  = transport.Events
	Config           = config.Config
)

// Re-export error types
var (
	ErrAlreadySubscribed = client.ErrAlreadySubscribed
	ErrClientClosed      = client.ErrClientClosed
	ErrNotConnected      = transport.ErrNotConnected
	ErrInvalidIdentifier = channel.ErrInvalidIdentifier
	ErrMalformedEnvelope = wire.ErrMalformedEnvelope
	ErrEmptyMessage      = wire.ErrEmptyMessage
)

// Re-export message types
const (
	TypeWelcome             = wire.TypeWelcome
	TypePing                = wire.TypePing
	TypeDisconnect          = wire.TypeDisconnect
	TypeConfirmSubscription = wire.TypeConfirmSubscription
	TypeRejectSubscription  = wire.TypeRejectSubscription
	TypeMessage             = wire.TypeMessage
	TypeUnrecognized        = wire.TypeUnrecognized
)

// NewIdentifier builds the identifier for channel name with params.
func NewIdentifier(name string, params map[string]any) (channel.Identifier, error) {
	return channel.New(name, params)
}

// NewClient creates an unconnected client over t.
func NewClient(t transport.Transport, opts ...client.Option) *client.Client {
	return client.New(t, opts...)
}

// DefaultOptions returns the default client options.
func DefaultOptions() client.Options {
	return client.DefaultOptions()
}

// Dial creates a client over the coder/websocket transport and starts
// connecting. It returns before the handshake finishes.
func Dial(url string, opts ...client.Option) *client.Client {
	o := client.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cli := client.NewWithOptions(coderws.New(url, coderws.WithLogger(o.Logger)), o)
	cli.Connect()
	return cli
}

// NewTransport builds the transport named by kind, config.TransportCoder or
// config.TransportGorilla. pingInterval > 0 enables transport pings.
func NewTransport(kind, url string, pingInterval time.Duration, logger *slog.Logger) (transport.Transport, error) {
	switch kind {
	case "", config.TransportCoder:
		return coderws.New(url, coderws.WithLogger(logger), coderws.WithPingInterval(pingInterval)), nil
	case config.TransportGorilla:
		return gorillaws.New(url, gorillaws.Config{Logger: logger, PingInterval: pingInterval}), nil
	default:
		return nil, fmt.Errorf("actioncable: unknown transport %q", kind)
	}
}

// FromConfig creates an unconnected client as described by cfg.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*client.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tr, err := NewTransport(cfg.Transport, cfg.URL, time.Duration(cfg.PingInterval), logger)
	if err != nil {
		return nil, err
	}
	o := cfg.ClientOptions()
	o.Logger = logger
	return client.NewWithOptions(tr, o), nil
}
