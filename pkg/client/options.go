package client

import (
	"log/slog"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/monitor"
	"github.com/lightforgemedia/go-actioncable/pkg/transport"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
)

const (
	defaultStaleThreshold = 6 * time.Second
)

// Options contains configuration values for NewWithOptions.
type Options struct {
	Logger *slog.Logger
	// Headers are sent on every connect.
	Headers map[string]string
	// StaleThreshold is how long the watchdog waits for a ping.
	StaleThreshold time.Duration
	// AutoReconnect enables the watchdog.
	AutoReconnect bool
	// ResubscribeOnReconnect re-sends subscribe for every registered channel
	// once connected.
	ResubscribeOnReconnect bool
	PollLowerBound         time.Duration
	PollUpperBound         time.Duration
	PollMultiplier         float64
	ReconnectDelay         time.Duration
	// Codec decodes inbound envelopes. Nil means a fresh default codec.
	Codec *wire.Codec
	// ClientID names the client in logs. Empty means a generated uuid.
	ClientID string
	// Clock is used by the watchdog. Nil means time.Now.
	Clock func() time.Time
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:                 slog.Default(),
		StaleThreshold:         defaultStaleThreshold,
		AutoReconnect:          true,
		ResubscribeOnReconnect: true,
		PollLowerBound:         monitor.DefaultPollLowerBound,
		PollUpperBound:         monitor.DefaultPollUpperBound,
		PollMultiplier:         monitor.DefaultPollMultiplier,
		ReconnectDelay:         monitor.DefaultReconnectDelay,
	}
}

// NewWithOptions builds a client from an Options struct. Zero values fall back
// to the defaults, except the two booleans which are taken as given.
func NewWithOptions(t transport.Transport, opts Options) *Client {
	def := DefaultOptions()
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = def.StaleThreshold
	}
	if opts.PollLowerBound <= 0 {
		opts.PollLowerBound = def.PollLowerBound
	}
	if opts.PollUpperBound <= 0 {
		opts.PollUpperBound = def.PollUpperBound
	}
	if opts.PollUpperBound < opts.PollLowerBound {
		opts.PollUpperBound = opts.PollLowerBound
	}
	if opts.PollMultiplier <= 0 {
		opts.PollMultiplier = def.PollMultiplier
	}
	if opts.ReconnectDelay < 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	return newClient(t, opts)
}

// Option configures the Client.
type Option func(*Options)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithHeaders sets the headers sent on every connect.
func WithHeaders(headers map[string]string) Option {
	return func(o *Options) {
		o.Headers = copyHeaders(headers)
	}
}

// WithStaleThreshold sets how long without a ping counts as a dead connection.
func WithStaleThreshold(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.StaleThreshold = d
		}
	}
}

// WithAutoReconnect enables or disables the watchdog.
func WithAutoReconnect(enabled bool) Option {
	return func(o *Options) {
		o.AutoReconnect = enabled
	}
}

// WithResubscribeOnReconnect controls whether registered channels are
// re-subscribed after every connect.
func WithResubscribeOnReconnect(enabled bool) Option {
	return func(o *Options) {
		o.ResubscribeOnReconnect = enabled
	}
}

// WithPollInterval sets the watchdog's polling backoff.
func WithPollInterval(lower, upper time.Duration, multiplier float64) Option {
	return func(o *Options) {
		if lower > 0 {
			o.PollLowerBound = lower
		}
		if upper > 0 {
			o.PollUpperBound = upper
		}
		if multiplier > 0 {
			o.PollMultiplier = multiplier
		}
	}
}

// WithReconnectDelay sets the pause between a forced disconnect and the
// following reconnect.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.ReconnectDelay = d
		}
	}
}

// WithCodec sets the envelope codec, usually to share a decoder registry.
func WithCodec(codec *wire.Codec) Option {
	return func(o *Options) {
		o.Codec = codec
	}
}

// WithClientID sets the id used in logs.
func WithClientID(id string) Option {
	return func(o *Options) {
		o.ClientID = id
	}
}

// WithClock replaces time.Now for the watchdog.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Clock = now
	}
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
