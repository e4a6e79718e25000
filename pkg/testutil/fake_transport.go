package testutil

import (
	"encoding/json"
	"sync"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/transport"
)

// SentCommand is a decoded outbound command captured by FakeTransport or
// CableServer.
type SentCommand struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
	Data       string `json:"data,omitempty"`
}

// DataMap decodes the double-encoded data field.
func (c SentCommand) DataMap() map[string]any {
	if c.Data == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(c.Data), &m)
	return m
}

// FakeTransport is an in-memory transport. Connect and Disconnect fire their
// events synchronously, and inbound envelopes are injected with the helpers.
type FakeTransport struct {
	mu          sync.Mutex
	events      transport.Events
	autoConnect bool
	connected   bool
	connects    []map[string]string
	disconnects int
	sent        []string
	sentBinary  [][]byte
	sendErr     error
}

// NewFakeTransport returns a transport that reports connected on Connect.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{autoConnect: true}
}

// SetAutoConnect controls whether Connect immediately fires OnConnected.
func (f *FakeTransport) SetAutoConnect(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoConnect = v
}

// SetSendError makes every send complete with err.
func (f *FakeTransport) SetSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *FakeTransport) SetEvents(e transport.Events) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = e
}

func (f *FakeTransport) Connect(headers map[string]string) {
	f.mu.Lock()
	f.connects = append(f.connects, headers)
	auto := f.autoConnect
	if auto {
		f.connected = true
	}
	ev := f.events
	f.mu.Unlock()
	if auto {
		ev.FireConnected(headers)
	}
}

func (f *FakeTransport) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	was := f.connected
	f.connected = false
	ev := f.events
	f.mu.Unlock()
	if was {
		ev.FireCancelled()
	}
}

func (f *FakeTransport) SendText(text string, done func(error)) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	err := f.sendErr
	f.mu.Unlock()
	transport.Complete(done, err)
}

func (f *FakeTransport) SendBinary(data []byte, done func(error)) {
	f.mu.Lock()
	f.sentBinary = append(f.sentBinary, append([]byte(nil), data...))
	err := f.sendErr
	f.mu.Unlock()
	transport.Complete(done, err)
}

// CompleteConnect fires OnConnected for a transport with auto-connect off.
func (f *FakeTransport) CompleteConnect(headers map[string]string) {
	f.mu.Lock()
	f.connected = true
	ev := f.events
	f.mu.Unlock()
	ev.FireConnected(headers)
}

// DropConnection simulates the remote side closing the socket.
func (f *FakeTransport) DropConnection(reason string) {
	f.mu.Lock()
	f.connected = false
	ev := f.events
	f.mu.Unlock()
	ev.FireDisconnected(reason)
}

// Receive injects an inbound text frame.
func (f *FakeTransport) Receive(text string) {
	f.mu.Lock()
	ev := f.events
	f.mu.Unlock()
	ev.FireText(text)
}

// ReceiveBinary injects an inbound binary frame.
func (f *FakeTransport) ReceiveBinary(data []byte) {
	f.mu.Lock()
	ev := f.events
	f.mu.Unlock()
	ev.FireBinary(data)
}

// ReceivePing fires a websocket-level ping event.
func (f *FakeTransport) ReceivePing() {
	f.mu.Lock()
	ev := f.events
	f.mu.Unlock()
	ev.FirePing()
}

// ReceivePong fires a websocket-level pong event.
func (f *FakeTransport) ReceivePong() {
	f.mu.Lock()
	ev := f.events
	f.mu.Unlock()
	ev.FirePong()
}

// ConfirmSubscription injects a confirm_subscription envelope for id.
func (f *FakeTransport) ConfirmSubscription(id channel.Identifier) {
	f.Receive(Envelope("confirm_subscription", id, nil))
}

// RejectSubscription injects a reject_subscription envelope for id.
func (f *FakeTransport) RejectSubscription(id channel.Identifier) {
	f.Receive(Envelope("reject_subscription", id, nil))
}

// Broadcast injects a data message for id.
func (f *FakeTransport) Broadcast(id channel.Identifier, message any) {
	f.Receive(Envelope("", id, message))
}

// Ping injects a ping envelope.
func (f *FakeTransport) Ping(ts int64) {
	f.Receive(PingEnvelope(ts))
}

// DisconnectEnvelope injects a server disconnect envelope.
func (f *FakeTransport) DisconnectEnvelope(reason string, reconnect bool) {
	f.Receive(DisconnectEnvelope(reason, reconnect))
}

func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Connects returns the headers of every Connect call.
func (f *FakeTransport) Connects() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.connects...)
}

func (f *FakeTransport) DisconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// Sent returns every text frame written so far.
func (f *FakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *FakeTransport) SentBinary() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sentBinary...)
}

// SentCommands decodes Sent. Frames that are not commands are skipped.
func (f *FakeTransport) SentCommands() []SentCommand {
	return decodeCommands(f.Sent())
}

// CountCommands returns how many sent commands have the given command and
// identifier.
func (f *FakeTransport) CountCommands(command string, id channel.Identifier) int {
	n := 0
	for _, c := range f.SentCommands() {
		if c.Command == command && c.Identifier == id.String() {
			n++
		}
	}
	return n
}

func decodeCommands(texts []string) []SentCommand {
	out := make([]SentCommand, 0, len(texts))
	for _, text := range texts {
		var c SentCommand
		if json.Unmarshal([]byte(text), &c) == nil && c.Command != "" {
			out = append(out, c)
		}
	}
	return out
}

// Envelope builds an inbound envelope. An empty typ produces a data message.
func Envelope(typ string, id channel.Identifier, message any) string {
	env := map[string]any{}
	if typ != "" {
		env["type"] = typ
	}
	if !id.IsZero() {
		env["identifier"] = id.String()
	}
	if message != nil {
		env["message"] = message
	}
	raw, _ := json.Marshal(env)
	return string(raw)
}

// PingEnvelope builds {"type":"ping","message":ts}.
func PingEnvelope(ts int64) string {
	return Envelope("ping", channel.Identifier{}, ts)
}

// DisconnectEnvelope builds a server disconnect envelope.
func DisconnectEnvelope(reason string, reconnect bool) string {
	raw, _ := json.Marshal(map[string]any{"type": "disconnect", "reason": reason, "reconnect": reconnect})
	return string(raw)
}
