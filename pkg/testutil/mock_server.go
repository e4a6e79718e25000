package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-actioncable/pkg/channel"
)

// CableServer is a minimal ActionCable server for tests. It greets every
// connection with a welcome, confirms subscribes (unless told to reject the
// channel) and records everything the client sends.
type CableServer struct {
	T      *testing.T
	Server *httptest.Server
	WsURL  string

	// Handler, if set, runs for every command after the built-in handling.
	Handler func(cmd SentCommand, cs *CableServer)

	mu       sync.Mutex
	conns    map[*websocket.Conn]context.CancelFunc
	total    int
	commands []SentCommand
	binary   [][]byte
	headers  []http.Header
	rejects  map[string]bool
}

// NewCableServer starts a server closed by t.Cleanup.
func NewCableServer(t *testing.T) *CableServer {
	t.Helper()
	cs := &CableServer{
		T:       t,
		conns:   make(map[*websocket.Conn]context.CancelFunc),
		rejects: make(map[string]bool),
	}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.serve))
	cs.WsURL = "ws" + strings.TrimPrefix(cs.Server.URL, "http")

	t.Cleanup(func() {
		cs.Close()
	})
	return cs
}

func (cs *CableServer) serve(w http.ResponseWriter, r *http.Request) {
	wsconn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"actioncable-v1-json"}})
	if err != nil {
		cs.T.Logf("CableServer: Accept error: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	cs.mu.Lock()
	cs.conns[wsconn] = cancel
	cs.total++
	cs.headers = append(cs.headers, r.Header.Clone())
	cs.mu.Unlock()

	defer func() {
		cs.mu.Lock()
		delete(cs.conns, wsconn)
		cs.mu.Unlock()
		cancel()
		wsconn.CloseNow()
	}()

	if err := wsconn.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`)); err != nil {
		return
	}

	for {
		typ, data, err := wsconn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			cs.mu.Lock()
			cs.binary = append(cs.binary, data)
			cs.mu.Unlock()
			continue
		}

		var cmd SentCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			cs.T.Logf("CableServer: bad command %q: %v", data, err)
			continue
		}
		cs.mu.Lock()
		cs.commands = append(cs.commands, cmd)
		reject := cs.rejects[cmd.Identifier]
		cs.mu.Unlock()

		if cmd.Command == "subscribe" {
			typ := "confirm_subscription"
			if reject {
				typ = "reject_subscription"
			}
			reply, _ := json.Marshal(map[string]string{"type": typ, "identifier": cmd.Identifier})
			_ = wsconn.Write(ctx, websocket.MessageText, reply)
		}
		if cs.Handler != nil {
			cs.Handler(cmd, cs)
		}
	}
}

// Reject makes subscribes to id answer with reject_subscription.
func (cs *CableServer) Reject(id channel.Identifier) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.rejects[id.String()] = true
}

func (cs *CableServer) openConns() []*websocket.Conn {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*websocket.Conn, 0, len(cs.conns))
	for c := range cs.conns {
		out = append(out, c)
	}
	return out
}

// SendText writes text to every open connection.
func (cs *CableServer) SendText(text string) {
	for _, c := range cs.openConns() {
		if err := c.Write(context.Background(), websocket.MessageText, []byte(text)); err != nil {
			cs.T.Logf("CableServer: write error: %v", err)
		}
	}
}

// SendBinary writes data to every open connection.
func (cs *CableServer) SendBinary(data []byte) {
	for _, c := range cs.openConns() {
		_ = c.Write(context.Background(), websocket.MessageBinary, data)
	}
}

// Broadcast sends a data message on id.
func (cs *CableServer) Broadcast(id channel.Identifier, message any) {
	cs.SendText(Envelope("", id, message))
}

// Ping sends a ping envelope.
func (cs *CableServer) Ping(ts int64) {
	cs.SendText(PingEnvelope(ts))
}

// ControlPing sends a websocket ping frame on every connection and waits
// for the pongs.
func (cs *CableServer) ControlPing(ctx context.Context) error {
	for _, c := range cs.openConns() {
		if err := c.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect sends a disconnect envelope and closes every connection.
func (cs *CableServer) Disconnect(reason string, reconnect bool) {
	cs.SendText(DisconnectEnvelope(reason, reconnect))
	cs.CloseConnections()
}

// CloseConnections closes every open connection.
func (cs *CableServer) CloseConnections() {
	cs.mu.Lock()
	conns := cs.conns
	cs.conns = make(map[*websocket.Conn]context.CancelFunc)
	cs.mu.Unlock()
	for c, cancel := range conns {
		c.Close(websocket.StatusNormalClosure, "Test closing connection")
		cancel()
	}
}

// Commands returns every command received so far.
func (cs *CableServer) Commands() []SentCommand {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]SentCommand(nil), cs.commands...)
}

// CountCommands counts received commands of one kind for id.
func (cs *CableServer) CountCommands(command string, id channel.Identifier) int {
	n := 0
	for _, c := range cs.Commands() {
		if c.Command == command && c.Identifier == id.String() {
			n++
		}
	}
	return n
}

// Binary returns the binary frames received so far.
func (cs *CableServer) Binary() [][]byte {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([][]byte(nil), cs.binary...)
}

// Headers returns the handshake headers of every accepted connection.
func (cs *CableServer) Headers() []http.Header {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]http.Header(nil), cs.headers...)
}

// OpenConnections returns the number of live connections.
func (cs *CableServer) OpenConnections() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

// TotalConnections returns the number of connections ever accepted.
func (cs *CableServer) TotalConnections() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.total
}

// Close closes every connection and the HTTP server.
func (cs *CableServer) Close() {
	cs.CloseConnections()
	if cs.Server != nil {
		cs.Server.Close()
	}
}
