// Package client implements an ActionCable client on top of a pluggable
// transport: channel subscriptions, inbound routing, taps and the optional
// reconnect watchdog.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/monitor"
	"github.com/lightforgemedia/go-actioncable/pkg/transport"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
)

var (
	// ErrAlreadySubscribed is returned by Subscribe when the identifier is
	// already registered.
	ErrAlreadySubscribed = errors.New("client: already subscribed")
	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("client: closed")

	errSuperseded = errors.New("client: connection superseded")
)

// Client is an ActionCable client. It is safe for concurrent use.
type Client struct {
	opts      Options
	id        string
	logger    *slog.Logger
	transport transport.Transport
	codec     *wire.Codec
	monitor   *monitor.Monitor

	// connMu serializes Connect, Disconnect and sends on the transport.
	connMu sync.Mutex

	stateMu   sync.RWMutex
	connected bool
	// epoch advances on every Connect and every connected event. A send
	// pinned to an epoch is skipped once the epoch has moved on.
	epoch     uint64
	closed    bool
	headers   map[string]string

	subsMu sync.RWMutex
	subs   map[string]*Subscription

	tapsMu sync.RWMutex
	taps   []*Tap

	// Inbound lanes. Each preserves arrival order for its event kind.
	control *dispatchQueue
	text    *dispatchQueue
	binary  *dispatchQueue
}

// New builds a client over t. Call Connect to open the socket.
func New(t transport.Transport, opts ...Option) *Client {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return NewWithOptions(t, o)
}

func newClient(t transport.Transport, opts Options) *Client {
	id := opts.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	codec := opts.Codec
	if codec == nil {
		codec = wire.NewCodec()
	}

	c := &Client{
		opts:      opts,
		id:        id,
		logger:    opts.Logger.With("client_id", id),
		transport: t,
		codec:     codec,
		headers:   copyHeaders(opts.Headers),
		subs:      make(map[string]*Subscription),
		control:   newDispatchQueue(),
		text:      newDispatchQueue(),
		binary:    newDispatchQueue(),
	}
	if opts.AutoReconnect {
		c.monitor = monitor.New(c, opts.StaleThreshold,
			monitor.WithClock(opts.Clock),
			monitor.WithPollInterval(opts.PollLowerBound, opts.PollUpperBound, opts.PollMultiplier),
			monitor.WithReconnectDelay(opts.ReconnectDelay),
			monitor.WithLogger(c.logger),
		)
	}

	t.SetEvents(transport.Events{
		OnConnected:    c.handleConnected,
		OnDisconnected: c.handleDisconnected,
		OnCancelled:    c.handleCancelled,
		OnText: func(text string) {
			taps := c.snapshotTaps()
			c.text.push(func() { c.route(taps, text) })
		},
		OnBinary: func(data []byte) {
			taps := c.snapshotTaps()
			c.binary.push(func() { notify(taps, func(tp *Tap) { fire(tp.OnBinary, data) }) })
		},
		OnPing: func() {
			taps := c.snapshotTaps()
			c.control.push(func() { notify(taps, func(tp *Tap) { fire0(tp.OnPing) }) })
		},
		OnPong: func() {
			taps := c.snapshotTaps()
			c.control.push(func() { notify(taps, func(tp *Tap) { fire0(tp.OnPong) }) })
		},
	})
	return c
}

// ID returns the client id used in logs.
func (c *Client) ID() string { return c.id }

// Codec returns the envelope codec. Register payload decoders on its Registry.
func (c *Client) Codec() *wire.Codec { return c.codec }

// Monitor returns the watchdog, or nil when auto-reconnect is disabled.
func (c *Client) Monitor() *monitor.Monitor { return c.monitor }

// IsConnected reports whether the transport reported a live socket.
func (c *Client) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.connected
}

// Headers returns a copy of the headers sent on connect.
func (c *Client) Headers() map[string]string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return copyHeaders(c.headers)
}

// SetHeaders replaces the headers used by the next Connect.
func (c *Client) SetHeaders(headers map[string]string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.headers = copyHeaders(headers)
}

func (c *Client) isClosed() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.closed
}

// Connect starts the transport handshake and returns without waiting for it.
func (c *Client) Connect() {
	if c.isClosed() {
		c.logger.Debug("connect ignored on closed client")
		return
	}
	headers := c.Headers()
	c.logger.Info(fmt.Sprintf("Client %s: connecting", c.id))

	c.connMu.Lock()
	defer c.connMu.Unlock()
	// The transport replaces its session without an event, so pinned sends
	// for the old one must stop here.
	c.stateMu.Lock()
	c.epoch++
	c.stateMu.Unlock()
	c.transport.Connect(headers)
}

// Disconnect closes the socket. Unless allowReconnect is set the watchdog is
// stopped first so it cannot undo the disconnect.
func (c *Client) Disconnect(allowReconnect bool) {
	if !allowReconnect && c.monitor != nil {
		c.monitor.Stop()
	}
	c.logger.Info(fmt.Sprintf("Client %s: disconnecting (allow_reconnect: %t)", c.id, allowReconnect))

	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.transport.Disconnect()
}

// Send writes one text frame. done, if not nil, runs after the transport
// finished the write. Sends made while disconnected are dropped: both the
// returned error and done receive transport.ErrNotConnected.
func (c *Client) Send(text string, done func(error)) error {
	return c.send(0, done, func() { c.transport.SendText(text, done) })
}

// SendBinary writes one binary frame with the same semantics as Send.
func (c *Client) SendBinary(data []byte, done func(error)) error {
	return c.send(0, done, func() { c.transport.SendBinary(data, done) })
}

// send writes under connMu. A non-zero epoch pins the write to that
// connection; it is skipped once a newer Connect or connected event happened.
func (c *Client) send(epoch uint64, done func(error), write func()) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.stateMu.RLock()
	closed, connected, current := c.closed, c.connected, c.epoch
	c.stateMu.RUnlock()

	switch {
	case closed:
		transport.Complete(done, ErrClientClosed)
		return ErrClientClosed
	case !connected:
		c.logger.Debug("send dropped while disconnected")
		transport.Complete(done, transport.ErrNotConnected)
		return transport.ErrNotConnected
	case epoch != 0 && epoch != current:
		transport.Complete(done, errSuperseded)
		return errSuperseded
	}
	write()
	return nil
}

// sendPinned sends a command that the connected handler replays. Skips and
// dropped sends are expected and not reported.
func (c *Client) sendPinned(epoch uint64, text, what string, id channel.Identifier) {
	err := c.send(epoch, nil, func() { c.transport.SendText(text, nil) })
	switch {
	case err == nil, errors.Is(err, transport.ErrNotConnected):
	case errors.Is(err, errSuperseded):
		c.logger.Debug(what+" left to the resubscribe of a newer connection", "identifier", id.String())
	default:
		c.logger.Info(fmt.Sprintf("Client %s: %s %s not sent: %v", c.id, what, id, err))
	}
}

// Subscribe registers onMessage for envelopes carrying id and sends the
// subscribe command. The registration happens before the send so a reply that
// arrives immediately still finds it. While disconnected the command is
// dropped and the subscription waits for the resubscribe on connect. The
// command goes out once per connection: either from here or from the replay.
func (c *Client) Subscribe(id channel.Identifier, onMessage func(*wire.Message)) (*Subscription, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	text, err := wire.EncodeSubscribe(id)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{client: c, id: id, onMessage: onMessage}
	c.subsMu.Lock()
	if _, ok := c.subs[id.Key()]; ok {
		c.subsMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, id)
	}
	c.subs[id.Key()] = sub
	// Registered while disconnected: the connected handler replays it.
	c.stateMu.RLock()
	connected, epoch := c.connected, c.epoch
	c.stateMu.RUnlock()
	c.subsMu.Unlock()
	if !connected {
		c.logger.Debug("subscribe deferred until connected", "identifier", id.String())
		return sub, nil
	}

	c.sendPinned(epoch, text, "subscribe to", id)
	return sub, nil
}

// Unsubscribe removes sub from the registry and sends the unsubscribe
// command. It reports false when sub is not the subscription registered for
// its identifier, which includes a handle replaced by a newer Subscribe.
func (c *Client) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	key := sub.id.Key()
	c.subsMu.Lock()
	if c.subs[key] != sub {
		c.subsMu.Unlock()
		return false
	}
	delete(c.subs, key)
	c.subsMu.Unlock()

	text, err := wire.EncodeUnsubscribe(sub.id)
	if err != nil {
		return true
	}
	if err := c.Send(text, nil); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		c.logger.Info(fmt.Sprintf("Client %s: unsubscribe from %s not sent: %v", c.id, sub.id, err))
	}
	return true
}

// Subscription returns the registered subscription for id.
func (c *Client) Subscription(id channel.Identifier) (*Subscription, bool) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	sub, ok := c.subs[id.Key()]
	return sub, ok
}

// Subscriptions returns the registered subscriptions ordered by identifier.
func (c *Client) Subscriptions() []*Subscription {
	c.subsMu.RLock()
	out := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		out = append(out, sub)
	}
	c.subsMu.RUnlock()
	slices.SortFunc(out, func(a, b *Subscription) int { return strings.Compare(a.id.Key(), b.id.Key()) })
	return out
}

// AddTap registers tap. A tap without an id is given one. Adding the same tap
// twice has no effect.
func (c *Client) AddTap(tap *Tap) {
	if tap == nil {
		return
	}
	if tap.id == "" {
		tap.id = uuid.NewString()
	}
	c.tapsMu.Lock()
	defer c.tapsMu.Unlock()
	for _, existing := range c.taps {
		if existing.id == tap.id {
			return
		}
	}
	c.taps = append(c.taps, tap)
}

// RemoveTap unregisters the tap with tap's id and reports whether it was present.
func (c *Client) RemoveTap(tap *Tap) bool {
	if tap == nil {
		return false
	}
	c.tapsMu.Lock()
	defer c.tapsMu.Unlock()
	for i, existing := range c.taps {
		if existing.id == tap.id {
			c.taps = slices.Delete(c.taps, i, i+1)
			return true
		}
	}
	return false
}

// Close stops the watchdog, disconnects and stops event dispatch. Queued
// events still run. Operations on a closed client fail with ErrClientClosed.
func (c *Client) Close() error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return ErrClientClosed
	}
	c.closed = true
	c.stateMu.Unlock()

	c.logger.Info(fmt.Sprintf("Client %s: closing", c.id))
	if c.monitor != nil {
		c.monitor.Stop()
	}
	c.connMu.Lock()
	c.transport.Disconnect()
	c.connMu.Unlock()

	c.control.close()
	c.text.close()
	c.binary.close()
	return nil
}

// setConnected records the socket state and returns the epoch a new
// connection starts.
func (c *Client) setConnected(v bool) uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.connected = v
	if v {
		c.epoch++
	}
	return c.epoch
}

func (c *Client) handleConnected(headers map[string]string) {
	// The flag and the snapshot change together under subsMu, so Subscribe
	// either sends its command itself or finds it replayed here, never both.
	var replay []*Subscription
	taps := c.snapshotTaps()
	c.subsMu.Lock()
	epoch := c.setConnected(true)
	if c.opts.ResubscribeOnReconnect {
		for _, sub := range c.subs {
			replay = append(replay, sub)
		}
	}
	c.subsMu.Unlock()
	slices.SortFunc(replay, func(a, b *Subscription) int { return strings.Compare(a.id.Key(), b.id.Key()) })

	c.logger.Info(fmt.Sprintf("Client %s: connected", c.id))
	if c.monitor != nil {
		c.monitor.OnConnected()
	}
	c.control.push(func() {
		notify(taps, func(tp *Tap) {
			if tp.OnConnected != nil {
				tp.OnConnected(headers)
			}
		})
		c.resubscribe(epoch, replay)
	})
}

func (c *Client) handleDisconnected(reason string) {
	taps := c.snapshotTaps()
	c.setConnected(false)
	c.logger.Info(fmt.Sprintf("Client %s: disconnected: %s", c.id, reason))
	if c.monitor != nil {
		c.monitor.OnDisconnected()
	}
	c.control.push(func() {
		notify(taps, func(tp *Tap) { fire(tp.OnDisconnected, reason) })
	})
}

func (c *Client) handleCancelled() {
	taps := c.snapshotTaps()
	c.setConnected(false)
	c.logger.Info(fmt.Sprintf("Client %s: connection cancelled", c.id))
	if c.monitor != nil {
		c.monitor.OnDisconnected()
	}
	c.control.push(func() {
		notify(taps, func(tp *Tap) { fire0(tp.OnCancelled) })
	})
}

func (c *Client) resubscribe(epoch uint64, subs []*Subscription) {
	if len(subs) == 0 {
		return
	}
	c.logger.Info(fmt.Sprintf("Client %s: re-subscribing to %d channels", c.id, len(subs)))
	for _, sub := range subs {
		if current, ok := c.Subscription(sub.id); !ok || current != sub {
			continue
		}
		text, err := wire.EncodeSubscribe(sub.id)
		if err != nil {
			continue
		}
		err = c.send(epoch, nil, func() { c.transport.SendText(text, nil) })
		if errors.Is(err, errSuperseded) {
			c.logger.Debug("re-subscribe left to a newer connection")
			return
		}
		if err != nil {
			c.logger.Info(fmt.Sprintf("Client %s: error re-subscribing to %s: %v", c.id, sub.id, err))
		}
	}
}

// route handles one inbound text frame. Taps see the text before it is
// decoded and the decoded envelope before the subscription does. taps is the
// tap list at the time the frame arrived.
func (c *Client) route(taps []*Tap, text string) {
	notify(taps, func(tp *Tap) { fire(tp.OnText, text) })

	msg, err := c.codec.Decode(text)
	if err != nil {
		c.logger.Debug("dropping undecodable envelope", "error", err)
		return
	}

	notify(taps, func(tp *Tap) { fire(tp.OnMessage, msg) })

	var sub *Subscription
	if msg.Identifier != nil {
		c.subsMu.RLock()
		sub = c.subs[msg.Identifier.Key()]
		c.subsMu.RUnlock()
		if sub != nil {
			sub.deliver(msg)
		}
	}

	switch msg.Type {
	case wire.TypeRejectSubscription:
		if sub != nil {
			c.evict(sub)
		}
	case wire.TypePing:
		if c.monitor != nil {
			c.monitor.OnPing()
		}
	case wire.TypeDisconnect:
		c.logger.Info(fmt.Sprintf("Client %s: server requested disconnect (reason: %s, reconnect: %t)", c.id, msg.DisconnectReason, msg.ShouldReconnect()))
		if c.monitor != nil {
			c.monitor.OnDisconnectEnvelope(msg.Reconnect)
		}
	}
}

// evict removes sub unless another subscription replaced it in the meantime.
func (c *Client) evict(sub *Subscription) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.subs[sub.id.Key()] == sub {
		delete(c.subs, sub.id.Key())
		c.logger.Info(fmt.Sprintf("Client %s: subscription to %s rejected", c.id, sub.id))
	}
}

func (c *Client) snapshotTaps() []*Tap {
	c.tapsMu.RLock()
	defer c.tapsMu.RUnlock()
	return slices.Clone(c.taps)
}

func notify(taps []*Tap, fn func(*Tap)) {
	for _, tp := range taps {
		fn(tp)
	}
}

func fire[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}

func fire0(fn func()) {
	if fn != nil {
		fn()
	}
}
