// Package metrics exports Prometheus metrics for ActionCable clients. A
// Collector observes clients through a tap, so it sees exactly the events the
// client dispatches.
//
// Metrics collected (namespace "actioncable" by default):
//   - texts_total: inbound text frames
//   - messages_total{type}: decoded envelopes by type
//   - binary_frames_total: inbound binary frames
//   - connections_total: successful connects
//   - disconnections_total{kind}: "remote" or "cancelled" closes
//   - control_frames_total{kind}: transport "ping" and "pong" frames
//   - connected: clients currently connected
//   - subscriptions and reconnect_attempts, when a client is observed
package metrics

import (
	"sync/atomic"

	"github.com/lightforgemedia/go-actioncable/pkg/client"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "actioncable").
	Namespace string
	// Subsystem is the metrics subsystem (default: "").
	Subsystem string
	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels
	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "actioncable",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector holds the client metrics.
type Collector struct {
	cfg     Config
	factory promauto.Factory

	texts         prometheus.Counter
	messages      *prometheus.CounterVec
	binary        prometheus.Counter
	connections   prometheus.Counter
	disconnects   *prometheus.CounterVec
	controlFrames *prometheus.CounterVec
	connected     prometheus.Gauge
}

// New registers the collector's metrics.
func New(opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		cfg:     cfg,
		factory: factory,
		texts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "texts_total",
			Help:        "Total number of inbound text frames",
			ConstLabels: cfg.ConstLabels,
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "messages_total",
			Help:        "Total number of decoded envelopes by type",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
		binary: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "binary_frames_total",
			Help:        "Total number of inbound binary frames",
			ConstLabels: cfg.ConstLabels,
		}),
		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of successful connects",
			ConstLabels: cfg.ConstLabels,
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "disconnections_total",
			Help:        "Total number of closed connections by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),
		controlFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "control_frames_total",
			Help:        "Total number of transport ping and pong frames",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "connected",
			Help:        "Number of connected clients",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// Tap returns a fresh tap feeding this collector. Add each tap to one client:
// the tap remembers whether its client is up, so a failed dial or a replaced
// session cannot move the connected gauge twice.
func (c *Collector) Tap() *client.Tap {
	var up atomic.Bool
	tap := client.NewTap()
	tap.OnText = func(string) { c.texts.Inc() }
	tap.OnMessage = func(m *wire.Message) { c.messages.WithLabelValues(string(m.Type)).Inc() }
	tap.OnBinary = func([]byte) { c.binary.Inc() }
	tap.OnConnected = func(map[string]string) {
		if up.CompareAndSwap(false, true) {
			c.connected.Inc()
		}
		c.connections.Inc()
	}
	tap.OnDisconnected = func(string) {
		if up.CompareAndSwap(true, false) {
			c.connected.Dec()
		}
		c.disconnects.WithLabelValues("remote").Inc()
	}
	tap.OnCancelled = func() {
		if up.CompareAndSwap(true, false) {
			c.connected.Dec()
		}
		c.disconnects.WithLabelValues("cancelled").Inc()
	}
	tap.OnPing = func() { c.controlFrames.WithLabelValues("ping").Inc() }
	tap.OnPong = func() { c.controlFrames.WithLabelValues("pong").Inc() }
	return tap
}

// Observe adds a tap to cli and exports gauges for its subscriptions and
// watchdog. The gauges carry a "client" label so several clients can share
// one registry. Call Observe before Connect or the first connect is missed.
func (c *Collector) Observe(cli *client.Client) *client.Tap {
	tap := c.Tap()
	cli.AddTap(tap)

	labels := prometheus.Labels{"client": cli.ID()}
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.cfg.Namespace,
		Subsystem:   c.cfg.Subsystem,
		Name:        "subscriptions",
		Help:        "Number of registered subscriptions",
		ConstLabels: mergeLabels(c.cfg.ConstLabels, labels),
	}, func() float64 { return float64(len(cli.Subscriptions())) })

	if mon := cli.Monitor(); mon != nil {
		c.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.cfg.Namespace,
			Subsystem:   c.cfg.Subsystem,
			Name:        "reconnect_attempts",
			Help:        "Watchdog reconnect attempts since the last connect",
			ConstLabels: mergeLabels(c.cfg.ConstLabels, labels),
		}, func() float64 { return float64(mon.ReconnectAttempts()) })
		c.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.cfg.Namespace,
			Subsystem:   c.cfg.Subsystem,
			Name:        "watchdog_running",
			Help:        "1 while the watchdog is polling",
			ConstLabels: mergeLabels(c.cfg.ConstLabels, labels),
		}, func() float64 {
			if mon.IsRunning() {
				return 1
			}
			return 0
		})
	}
	return tap
}

func mergeLabels(a, b prometheus.Labels) prometheus.Labels {
	out := prometheus.Labels{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
