// Package tapbus fans a client's tap events out to any number of channel
// subscribers over github.com/cskr/pubsub. Decoded envelopes are published
// on a per-identifier topic and on an all-messages topic; connection
// lifecycle events go to their own topic.
package tapbus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cskr/pubsub"
	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/client"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
)

// DefaultCapacity is the per-subscriber buffer used when New gets capacity <= 0.
const DefaultCapacity = 64

const (
	topicAll        = "all"
	topicConnection = "connection"
	topicBinary     = "binary"
	topicPrefix     = "identifier:"
)

// Kind says which tap callback produced an Event.
type Kind int

const (
	KindMessage Kind = iota
	KindConnected
	KindDisconnected
	KindCancelled
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindCancelled:
		return "cancelled"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one published tap callback. Only the fields of its Kind are set.
type Event struct {
	Kind    Kind
	Message *wire.Message
	Headers map[string]string
	Reason  string
	Data    []byte
}

// Bus owns one tap and republishes everything it sees.
type Bus struct {
	ps       *pubsub.PubSub
	capacity int
	logger   *slog.Logger
	tap      *client.Tap

	mu       sync.RWMutex
	closed   bool
	attached []*client.Client

	// closing is closed as soon as Close starts. Forwarders stop waiting on
	// their readers then, which unblocks a publish stuck on an idle one.
	closing     chan struct{}
	closingOnce sync.Once
}

// New returns a bus whose subscribers buffer capacity events each.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		ps:       pubsub.New(capacity),
		capacity: capacity,
		logger:   logger,
		closing:  make(chan struct{}),
	}
	tap := client.NewTap()
	tap.OnMessage = b.publishMessage
	tap.OnConnected = func(h map[string]string) { b.publish(Event{Kind: KindConnected, Headers: h}, topicConnection) }
	tap.OnDisconnected = func(r string) { b.publish(Event{Kind: KindDisconnected, Reason: r}, topicConnection) }
	tap.OnCancelled = func() { b.publish(Event{Kind: KindCancelled}, topicConnection) }
	tap.OnBinary = func(d []byte) { b.publish(Event{Kind: KindBinary, Data: d}, topicBinary) }
	b.tap = tap
	return b
}

// Tap returns the bus tap, for callers that register it themselves.
func (b *Bus) Tap() *client.Tap { return b.tap }

// Attach adds the bus tap to c. Close removes it again.
func (b *Bus) Attach(c *client.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	c.AddTap(b.tap)
	b.attached = append(b.attached, c)
}

func identifierTopic(id channel.Identifier) string { return topicPrefix + id.Key() }

func (b *Bus) publishMessage(msg *wire.Message) {
	topics := []string{topicAll}
	if msg.Identifier != nil {
		topics = append(topics, identifierTopic(*msg.Identifier))
	}
	b.publish(Event{Kind: KindMessage, Message: msg}, topics...)
}

// publish blocks while a subscriber's buffer is full. Subscribers must keep
// reading or cancel. Close releases a blocked publish.
func (b *Bus) publish(ev Event, topics ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.ps.Pub(ev, topics...)
}

// Messages subscribes to envelopes carrying id.
func (b *Bus) Messages(id channel.Identifier) (<-chan Event, func()) {
	return b.subscribe(identifierTopic(id))
}

// AllMessages subscribes to every decoded envelope.
func (b *Bus) AllMessages() (<-chan Event, func()) {
	return b.subscribe(topicAll)
}

// Connection subscribes to connected, disconnected and cancelled events.
func (b *Bus) Connection() (<-chan Event, func()) {
	return b.subscribe(topicConnection)
}

// Binary subscribes to inbound binary frames.
func (b *Bus) Binary() (<-chan Event, func()) {
	return b.subscribe(topicBinary)
}

// subscribe returns a typed view of a pubsub channel and its cancel func.
// The returned channel is closed after cancel or Close.
func (b *Bus) subscribe(topic string) (<-chan Event, func()) {
	out := make(chan Event, b.capacity)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		close(out)
		return out, func() {}
	}
	raw := b.ps.Sub(topic)
	b.mu.RUnlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			go func() {
				b.mu.RLock()
				defer b.mu.RUnlock()
				if !b.closed {
					b.ps.Unsub(raw, topic)
				}
			}()
		})
	}

	go func() {
		defer close(out)
		for v := range raw {
			ev, ok := v.(Event)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-done:
				// Keep draining so the bus never blocks on us.
				for range raw {
				}
				return
			case <-b.closing:
				for range raw {
				}
				return
			}
		}
	}()
	b.logger.Debug("tapbus subscriber added", "topic", topic)
	return out, cancel
}

// Close detaches the tap from every attached client and closes all
// subscriber channels.
func (b *Bus) Close() {
	b.closingOnce.Do(func() { close(b.closing) })
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	attached := b.attached
	b.attached = nil
	b.mu.Unlock()

	for _, c := range attached {
		c.RemoveTap(b.tap)
	}
	b.ps.Shutdown()
	b.logger.Info("tapbus closed")
}
