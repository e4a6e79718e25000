// Package gorillaws is a transport over github.com/gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightforgemedia/go-actioncable/pkg/transport"
)

const (
	defaultSendBuffer   = 16
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1024 * 1024
	controlTimeout      = time.Second
	// Subprotocol is the ActionCable JSON protocol name.
	Subprotocol = "actioncable-v1-json"
)

var errSendBufferFull = errors.New("gorillaws: send buffer full")

// Config holds the transport settings. Zero fields take defaults.
type Config struct {
	Logger       *slog.Logger
	Dialer       *websocket.Dialer
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval enables client pings; each pong fires OnPong.
	PingInterval time.Duration
	ReadLimit    int64
	Subprotocols []string
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Dialer == nil {
		d := *websocket.DefaultDialer
		c.Dialer = &d
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.Subprotocols == nil {
		c.Subprotocols = []string{Subprotocol}
	}
}

type frame struct {
	typ  int
	data []byte
	done func(error)
}

type session struct {
	conn   *websocket.Conn
	closed chan struct{}
	send   chan frame
	once   sync.Once
	// cancel aborts a dial in progress.
	cancel context.CancelFunc
}

// Transport dials urlStr on every Connect.
type Transport struct {
	urlStr string
	cfg    Config

	mu     sync.Mutex
	events transport.Events
	cur    *session
}

// New returns a transport for urlStr.
func New(urlStr string, cfg Config) *Transport {
	cfg.applyDefaults()
	return &Transport{urlStr: urlStr, cfg: cfg}
}

func (t *Transport) SetEvents(e transport.Events) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = e
}

func (t *Transport) getEvents() transport.Events {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Connect dials in the background, replacing any previous session.
func (t *Transport) Connect(headers map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
	s := &session{closed: make(chan struct{}), send: make(chan frame, defaultSendBuffer), cancel: cancel}

	t.mu.Lock()
	old := t.cur
	t.cur = s
	t.mu.Unlock()
	if old != nil {
		t.closeSession(old, true, "replaced by new connection")
	}
	go t.dial(ctx, s, headers)
}

func (t *Transport) dial(ctx context.Context, s *session, headers map[string]string) {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	dialer := *t.cfg.Dialer
	dialer.Subprotocols = t.cfg.Subprotocols

	conn, resp, err := dialer.DialContext(ctx, t.urlStr, h)
	s.cancel()
	if err != nil {
		errMsg := fmt.Sprintf("dial to %s failed: %v", t.urlStr, err)
		if resp != nil {
			errMsg = fmt.Sprintf("%s (status: %s)", errMsg, resp.Status)
		}
		t.cfg.Logger.Info("Transport: " + errMsg)
		t.mu.Lock()
		current := t.cur == s
		if current {
			t.cur = nil
		}
		t.mu.Unlock()
		s.once.Do(func() { close(s.closed) })
		if current {
			t.getEvents().FireDisconnected(errMsg)
		}
		return
	}

	t.mu.Lock()
	if t.cur != s {
		t.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	t.mu.Unlock()

	ev := t.getEvents()
	conn.SetReadLimit(t.cfg.ReadLimit)
	conn.SetPingHandler(func(appData string) error {
		ev.FirePing()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		ev.FirePong()
		return nil
	})

	hs := map[string]string{}
	for k := range resp.Header {
		hs[k] = resp.Header.Get(k)
	}
	t.cfg.Logger.Info(fmt.Sprintf("Transport: connected to %s", t.urlStr))
	ev.FireConnected(hs)

	go t.writePump(s)
	if t.cfg.PingInterval > 0 {
		go t.pingLoop(s)
	}
	t.readPump(s, ev)
}

func (t *Transport) readPump(s *session, ev transport.Events) {
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			reason := err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				reason = fmt.Sprintf("closed with status %d", ce.Code)
			}
			t.cfg.Logger.Debug("Transport: readPump stopping", "error", err)
			t.closeSession(s, false, reason)
			return
		}
		switch typ {
		case websocket.TextMessage:
			ev.FireText(string(data))
		case websocket.BinaryMessage:
			ev.FireBinary(data)
		}
	}
}

// writePump is the connection's only data writer.
func (t *Transport) writePump(s *session) {
	for {
		select {
		case f := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			err := s.conn.WriteMessage(f.typ, f.data)
			transport.Complete(f.done, err)
			if err != nil {
				t.cfg.Logger.Info(fmt.Sprintf("Transport: write error in writePump: %v. Connection may be stale.", err))
				t.closeSession(s, false, "write failed: "+err.Error())
				return
			}
		case <-s.closed:
			for {
				select {
				case f := <-s.send:
					transport.Complete(f.done, transport.ErrNotConnected)
				default:
					return
				}
			}
		}
	}
}

func (t *Transport) pingLoop(s *session) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlTimeout)); err != nil {
				t.cfg.Logger.Info(fmt.Sprintf("Transport: ping failed: %v. Connection might be stale.", err))
				t.closeSession(s, false, "ping failed")
				return
			}
		case <-s.closed:
			return
		}
	}
}

// closeSession tears s down once. Only the current session fires events:
// OnCancelled for local closes, OnDisconnected otherwise.
func (t *Transport) closeSession(s *session, local bool, reason string) {
	s.once.Do(func() {
		t.mu.Lock()
		current := t.cur == s
		if current {
			t.cur = nil
		}
		conn := s.conn
		t.mu.Unlock()

		close(s.closed)
		s.cancel()
		if conn != nil {
			go func() {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
				conn.Close()
			}()
		}
		if !current {
			return
		}
		if local {
			t.getEvents().FireCancelled()
		} else {
			t.getEvents().FireDisconnected(reason)
		}
	})
}

// Disconnect closes the current session, or aborts a dial in progress.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	s := t.cur
	t.mu.Unlock()
	if s != nil {
		t.closeSession(s, true, "client disconnect")
	}
}

func (t *Transport) SendText(text string, done func(error)) {
	t.enqueue(frame{typ: websocket.TextMessage, data: []byte(text), done: done})
}

func (t *Transport) SendBinary(data []byte, done func(error)) {
	t.enqueue(frame{typ: websocket.BinaryMessage, data: append([]byte(nil), data...), done: done})
}

func (t *Transport) enqueue(f frame) {
	t.mu.Lock()
	s := t.cur
	ready := s != nil && s.conn != nil
	t.mu.Unlock()
	if !ready {
		transport.Complete(f.done, transport.ErrNotConnected)
		return
	}
	select {
	case <-s.closed:
		transport.Complete(f.done, transport.ErrNotConnected)
		return
	default:
	}
	timer := time.NewTimer(t.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case s.send <- f:
	case <-s.closed:
		transport.Complete(f.done, transport.ErrNotConnected)
	case <-timer.C:
		t.cfg.Logger.Info("Transport: send buffer full, frame dropped", "waited", t.cfg.WriteTimeout)
		transport.Complete(f.done, errSendBufferFull)
	}
}
