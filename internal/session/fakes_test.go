package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"github.com/vburojevic/bsync/internal/diag"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/protocol"
	"github.com/vburojevic/bsync/internal/store"
)

type fakeConn struct {
	in   chan *protocol.Inbound
	errc chan error
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	written []protocol.Outbound
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan *protocol.Inbound, 16),
		errc: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) Read() (*protocol.Inbound, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case err := <-c.errc:
		return nil, err
	case <-c.done:
		return nil, &CloseError{Code: protocol.CloseAbnormal, Reason: "closed locally"}
	}
}

func (c *fakeConn) Write(msg protocol.Outbound) error {
	select {
	case <-c.done:
		return errors.New("write on closed conn")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) closeWith(code int) {
	c.errc <- &CloseError{Code: code}
}

func (c *fakeConn) push(messageType string, trackingID int, payload any) {
	raw, _ := json.Marshal(payload)
	c.in <- &protocol.Inbound{MessageType: messageType, TrackingID: trackingID, Payload: raw}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sent(msgType string) []protocol.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Outbound
	for _, m := range c.written {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  error
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type fakeHandshaker struct {
	mu       sync.Mutex
	requests []protocol.HandshakeRequest
	response func(n int) (*protocol.HandshakeResponse, error)
}

func (h *fakeHandshaker) Handshake(_ context.Context, req protocol.HandshakeRequest) (*protocol.HandshakeResponse, error) {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	n := len(h.requests)
	h.mu.Unlock()
	if h.response != nil {
		return h.response(n)
	}
	return &protocol.HandshakeResponse{
		SessionID: "session-" + strconv.Itoa(n),
		Mode:      domain.ModeEdit,
		Components: domain.ComponentMap{
			"root": {ID: "root", Type: "root", Content: map[string]string{}},
		},
		UserState: map[string]any{"counter": float64(n)},
	}, nil
}

func (h *fakeHandshaker) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

type recordingListener struct {
	NopListener
	mu      sync.Mutex
	health  []domain.Health
	debug   []string
	logs    []diag.LogEntry
	trees   int
	session []*domain.SessionEstablished
}

func (l *recordingListener) OnHealth(e *domain.HealthChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.health = append(l.health, e.To)
}

func (l *recordingListener) OnDebug(e *domain.SessionDebug) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = append(l.debug, e.Reason)
}

func (l *recordingListener) OnLog(entry diag.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, entry)
}

func (l *recordingListener) OnComponents(domain.ComponentMap, store.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trees++
}

func (l *recordingListener) OnSession(e *domain.SessionEstablished) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = append(l.session, e)
}

func (l *recordingListener) count(reason string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.debug {
		if r == reason {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu    sync.Mutex
	ready bool
	sent  []protocol.Outbound
	err   error
}

func (t *fakeTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *fakeTransport) Send(msg protocol.Outbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}
