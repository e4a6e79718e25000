// Package coderws is a transport over github.com/coder/websocket.
package coderws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-actioncable/pkg/transport"
)

const (
	defaultSendBuffer   = 16
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1024 * 1024 // 1MB
	// Subprotocol is the ActionCable JSON protocol name.
	Subprotocol = "actioncable-v1-json"
)

type config struct {
	logger       *slog.Logger
	httpClient   *http.Client
	dialTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
	readLimit    int64
	sendBuffer   int
	subprotocols []string
}

// Option configures the Transport.
type Option func(*config)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for the handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDialTimeout bounds the handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithPingInterval enables client-initiated websocket pings. Each pong fires
// OnPong. interval <= 0 disables pings, the default.
func WithPingInterval(interval time.Duration) Option {
	return func(c *config) {
		c.pingInterval = interval
	}
}

// WithReadLimit sets the largest inbound frame in bytes.
func WithReadLimit(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithSubprotocols replaces the requested subprotocols.
func WithSubprotocols(protos ...string) Option {
	return func(c *config) {
		c.subprotocols = protos
	}
}

type frame struct {
	typ  websocket.MessageType
	data []byte
	done func(error)
}

// session is one dialed connection and its pumps.
type session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	send   chan frame
	once   sync.Once
}

// Transport dials urlStr on every Connect.
type Transport struct {
	urlStr string
	cfg    config

	mu     sync.Mutex
	events transport.Events
	cur    *session
}

// New returns a transport for urlStr.
func New(urlStr string, opts ...Option) *Transport {
	cfg := config{
		logger:       slog.Default(),
		httpClient:   http.DefaultClient,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
		sendBuffer:   defaultSendBuffer,
		subprotocols: []string{Subprotocol},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
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

// Connect dials in the background. Any previous session is replaced.
func (t *Transport) Connect(headers map[string]string) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{ctx: ctx, cancel: cancel, send: make(chan frame, t.cfg.sendBuffer)}

	t.mu.Lock()
	old := t.cur
	t.cur = s
	t.mu.Unlock()
	if old != nil {
		t.closeSession(old, true, websocket.StatusNormalClosure, "replaced by new connection")
	}

	go t.dial(s, headers)
}

func (t *Transport) dial(s *session, headers map[string]string) {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	dialCtx, dialCancel := context.WithTimeout(s.ctx, t.cfg.dialTimeout)
	conn, resp, err := websocket.Dial(dialCtx, t.urlStr, &websocket.DialOptions{
		HTTPClient:   t.cfg.httpClient,
		HTTPHeader:   h,
		Subprotocols: t.cfg.subprotocols,
	})
	dialCancel()

	if err != nil {
		errMsg := fmt.Sprintf("dial to %s failed: %v", t.urlStr, err)
		if resp != nil {
			errMsg = fmt.Sprintf("%s (status: %s)", errMsg, resp.Status)
		}
		t.cfg.logger.Info("Transport: " + errMsg)
		if t.detach(s) && s.ctx.Err() == nil {
			s.cancel()
			t.getEvents().FireDisconnected(errMsg)
		}
		return
	}
	conn.SetReadLimit(t.cfg.readLimit)

	t.mu.Lock()
	if t.cur != s || s.ctx.Err() != nil {
		t.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "connection abandoned")
		return
	}
	s.conn = conn
	t.mu.Unlock()

	hs := map[string]string{}
	for k := range resp.Header {
		hs[k] = resp.Header.Get(k)
	}
	t.cfg.logger.Info(fmt.Sprintf("Transport: connected to %s", t.urlStr))
	t.getEvents().FireConnected(hs)

	go t.writePump(s)
	if t.cfg.pingInterval > 0 {
		go t.pingLoop(s)
	}
	t.readPump(s)
}

func (t *Transport) readPump(s *session) {
	ev := t.getEvents()
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			reason := err.Error()
			if status != -1 {
				reason = fmt.Sprintf("closed with status %d", status)
			}
			t.cfg.logger.Debug("Transport: readPump stopping", "error", err, "status", int(status))
			t.closeSession(s, false, websocket.StatusAbnormalClosure, reason)
			return
		}
		switch typ {
		case websocket.MessageText:
			ev.FireText(string(data))
		case websocket.MessageBinary:
			ev.FireBinary(data)
		}
	}
}

func (t *Transport) writePump(s *session) {
	for {
		select {
		case f := <-s.send:
			ctx, cancel := context.WithTimeout(s.ctx, t.cfg.writeTimeout)
			err := s.conn.Write(ctx, f.typ, f.data)
			cancel()
			transport.Complete(f.done, err)
			if err != nil {
				t.cfg.logger.Info(fmt.Sprintf("Transport: write error in writePump: %v. Connection may be stale.", err))
				t.closeSession(s, false, websocket.StatusAbnormalClosure, "write failed: "+err.Error())
				return
			}
		case <-s.ctx.Done():
			t.drain(s)
			return
		}
	}
}

// drain fails frames queued behind a closed session.
func (t *Transport) drain(s *session) {
	for {
		select {
		case f := <-s.send:
			transport.Complete(f.done, transport.ErrNotConnected)
		default:
			return
		}
	}
}

func (t *Transport) pingLoop(s *session) {
	ticker := time.NewTicker(t.cfg.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, t.cfg.pingInterval/2)
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				if s.ctx.Err() == nil {
					t.cfg.logger.Info(fmt.Sprintf("Transport: ping failed: %v. Connection might be stale.", err))
					t.closeSession(s, false, websocket.StatusPolicyViolation, "ping failed")
				}
				return
			}
			t.getEvents().FirePong()
		case <-s.ctx.Done():
			return
		}
	}
}

// detach clears s as the current session and reports whether it was current.
func (t *Transport) detach(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur != s {
		return false
	}
	t.cur = nil
	return true
}

// closeSession tears s down once and fires OnCancelled for local closes or
// OnDisconnected otherwise. Replaced sessions fire nothing. The close
// handshake runs in the background so callers never wait on the peer.
func (t *Transport) closeSession(s *session, local bool, code websocket.StatusCode, reason string) {
	s.once.Do(func() {
		t.mu.Lock()
		current := t.cur == s
		if current {
			t.cur = nil
		}
		conn := s.conn
		t.mu.Unlock()

		if conn == nil {
			s.cancel()
		} else {
			go func() {
				_ = conn.Close(code, reason)
				s.cancel()
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
	if s == nil {
		return
	}
	t.closeSession(s, true, websocket.StatusNormalClosure, "client disconnect")
}

func (t *Transport) SendText(text string, done func(error)) {
	t.enqueue(frame{typ: websocket.MessageText, data: []byte(text), done: done})
}

func (t *Transport) SendBinary(data []byte, done func(error)) {
	t.enqueue(frame{typ: websocket.MessageBinary, data: append([]byte(nil), data...), done: done})
}

var errSendBufferFull = errors.New("coderws: send buffer full")

func (t *Transport) enqueue(f frame) {
	t.mu.Lock()
	s := t.cur
	ready := s != nil && s.conn != nil
	t.mu.Unlock()
	if !ready || s.ctx.Err() != nil {
		transport.Complete(f.done, transport.ErrNotConnected)
		return
	}
	timer := time.NewTimer(t.cfg.writeTimeout)
	defer timer.Stop()
	select {
	case s.send <- f:
	case <-s.ctx.Done():
		transport.Complete(f.done, transport.ErrNotConnected)
	case <-timer.C:
		t.cfg.logger.Info("Transport: send buffer full, frame dropped", "waited", t.cfg.writeTimeout)
		transport.Complete(f.done, errSendBufferFull)
	}
}
