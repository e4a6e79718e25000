// Package monitor implements the connection watchdog: a polling loop that
// forces a reconnect when no liveness signal has arrived within a threshold.
package monitor

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	DefaultPollLowerBound = 3 * time.Second
	DefaultPollUpperBound = 30 * time.Second
	DefaultPollMultiplier = 5.0
	DefaultReconnectDelay = 1 * time.Second
)

// Connector is the side of a client the monitor drives. It does not extend the
// client's lifetime.
type Connector interface {
	Connect()
	Disconnect(allowReconnect bool)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now. Tests use it to simulate elapsed time.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPollInterval sets the bounds and multiplier of the polling backoff.
// Non-positive values keep the defaults; upper is raised to lower if smaller.
func WithPollInterval(lower, upper time.Duration, multiplier float64) Option {
	return func(m *Monitor) {
		if lower > 0 {
			m.pollLower = lower
		}
		if upper > 0 {
			m.pollUpper = upper
		}
		if m.pollUpper < m.pollLower {
			m.pollUpper = m.pollLower
		}
		if multiplier > 0 {
			m.pollMultiplier = multiplier
		}
	}
}

// WithReconnectDelay sets the pause between a forced disconnect and the
// following connect.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.reconnectDelay = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Monitor is the watchdog. It starts Stopped; Start and Stop are idempotent.
// The zero value is not usable; construct with New.
type Monitor struct {
	conn           Connector
	staleThreshold time.Duration
	pollLower      time.Duration
	pollUpper      time.Duration
	pollMultiplier float64
	reconnectDelay time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu                sync.Mutex
	running           bool
	stopCh            chan struct{}
	reconnectAttempts int
	startedAt         time.Time
	stoppedAt         time.Time
	pingedAt          time.Time
	disconnectedAt    time.Time
}

// New returns a stopped monitor for conn.
func New(conn Connector, staleThreshold time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		conn:           conn,
		staleThreshold: staleThreshold,
		pollLower:      DefaultPollLowerBound,
		pollUpper:      DefaultPollUpperBound,
		pollMultiplier: DefaultPollMultiplier,
		reconnectDelay: DefaultReconnectDelay,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start records the start time and spawns the polling loop. No-op if running.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.startedAt = m.now()
	m.stoppedAt = time.Time{}
	m.stopCh = make(chan struct{})
	go m.poll(m.stopCh)
	m.logger.Debug("monitor started", "stale_threshold", m.staleThreshold)
}

// Stop records the stop time. The polling loop exits no later than its next
// wake. No-op if not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.stoppedAt = m.now()
	close(m.stopCh)
	m.stopCh = nil
	m.logger.Debug("monitor stopped")
}

// IsRunning reports whether the monitor is in the Running state.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) poll(stop <-chan struct{}) {
	timer := time.NewTimer(m.PollInterval())
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		// Stop may have raced the timer.
		select {
		case <-stop:
			return
		default:
		}
		m.ReconnectIfStale()
		timer.Reset(m.PollInterval())
	}
}

// PollInterval returns clamp(multiplier * ln(1 + reconnectAttempts), lower, upper).
func (m *Monitor) PollInterval() time.Duration {
	m.mu.Lock()
	attempts := m.reconnectAttempts
	m.mu.Unlock()
	return m.pollIntervalFor(attempts)
}

func (m *Monitor) pollIntervalFor(attempts int) time.Duration {
	secs := m.pollMultiplier * math.Log1p(float64(attempts))
	d := time.Duration(secs * float64(time.Second))
	if d < m.pollLower {
		return m.pollLower
	}
	if d > m.pollUpper {
		return m.pollUpper
	}
	return d
}

// IsConnectionStale reports whether no ping (or start) has been recorded within
// the stale threshold. Always false while stopped.
func (m *Monitor) IsConnectionStale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isStaleLocked()
}

func (m *Monitor) isStaleLocked() bool {
	if !m.running {
		return false
	}
	last := m.pingedAt
	if last.IsZero() {
		last = m.startedAt
	}
	return m.now().Sub(last) >= m.staleThreshold
}

// DisconnectedRecently reports whether a disconnect was recorded less than
// the stale threshold ago.
func (m *Monitor) DisconnectedRecently() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectedRecentlyLocked()
}

func (m *Monitor) disconnectedRecentlyLocked() bool {
	if m.disconnectedAt.IsZero() {
		return false
	}
	return m.now().Sub(m.disconnectedAt) < m.staleThreshold
}

// ReconnectIfStale forces a disconnect and, after the reconnect delay, a
// connect when the connection is stale and no disconnect happened recently.
// It blocks for the reconnect delay and reports whether it acted.
func (m *Monitor) ReconnectIfStale() bool {
	m.mu.Lock()
	if !m.isStaleLocked() || m.disconnectedRecentlyLocked() {
		m.mu.Unlock()
		return false
	}
	m.reconnectAttempts++
	attempt := m.reconnectAttempts
	delay := m.reconnectDelay
	m.mu.Unlock()

	m.logger.Info(fmt.Sprintf("Monitor: connection stale, reconnecting (attempt %d)", attempt))
	m.conn.Disconnect(true)
	if delay > 0 {
		time.Sleep(delay)
	}
	if !m.IsRunning() {
		m.logger.Debug("monitor stopped during reconnect delay, skipping connect")
		return true
	}
	m.conn.Connect()
	return true
}

// OnConnected resets the attempt counter, records a ping, clears the
// disconnect time and (re)starts the monitor.
func (m *Monitor) OnConnected() {
	m.mu.Lock()
	m.reconnectAttempts = 0
	m.pingedAt = m.now()
	m.disconnectedAt = time.Time{}
	m.mu.Unlock()
	m.Start()
}

// OnDisconnected records the disconnect time.
func (m *Monitor) OnDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectedAt = m.now()
}

// OnPing records a liveness signal.
func (m *Monitor) OnPing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingedAt = m.now()
}

// OnDisconnectEnvelope stops the monitor when the server forbids reconnecting.
// A nil flag allows reconnecting.
func (m *Monitor) OnDisconnectEnvelope(reconnect *bool) {
	if reconnect != nil && !*reconnect {
		m.logger.Info("Monitor: server disallowed reconnect, stopping")
		m.Stop()
	}
}

// ReconnectAttempts returns the forced reconnects since the last connect.
func (m *Monitor) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

// StaleThreshold returns the configured threshold.
func (m *Monitor) StaleThreshold() time.Duration { return m.staleThreshold }

// StartedAt returns when the watchdog last started polling.
func (m *Monitor) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedAt
}

// StoppedAt returns when the watchdog was last stopped.
func (m *Monitor) StoppedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stoppedAt
}

// PingedAt returns when the last ping envelope arrived, or the connect time
// if none has.
func (m *Monitor) PingedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingedAt
}

// DisconnectedAt returns when the client last lost its connection. It is zero
// again once the client reconnects.
func (m *Monitor) DisconnectedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectedAt
}
