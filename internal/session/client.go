// Package session keeps a builder client attached to its backend: the
// handshake, the duplex stream, reconnects and tracked calls.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/vburojevic/bsync/internal/diag"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/mail"
	"github.com/vburojevic/bsync/internal/protocol"
	"github.com/vburojevic/bsync/internal/store"
)

// Defaults for Options
const (
	DefaultReconnectDelay    = 1000 * time.Millisecond
	DefaultKeepAliveInterval = 20 * time.Second
)

// MailLogEntry is the mail type carrying diagnostic log entries
const MailLogEntry = "logEntry"

// Listener observes a Client. Hooks run outside the client lock, on the
// goroutine that caused the change.
type Listener interface {
	OnHealth(e *domain.HealthChange)
	OnSession(e *domain.SessionEstablished)
	OnComponents(components domain.ComponentMap, report store.Report)
	OnState(state map[string]any)
	OnLog(entry diag.LogEntry)
	OnDebug(e *domain.SessionDebug)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnHealth(*domain.HealthChange)                  {}
func (NopListener) OnSession(*domain.SessionEstablished)           {}
func (NopListener) OnComponents(domain.ComponentMap, store.Report) {}
func (NopListener) OnState(map[string]any)                         {}
func (NopListener) OnLog(diag.LogEntry)                            {}
func (NopListener) OnDebug(*domain.SessionDebug)                   {}

// Options configures a Client
type Options struct {
	Handshaker Handshaker
	Dialer     Dialer
	Sessions   SessionStore
	Store      *store.Store
	Router     *mail.Router
	Book       *diag.Book
	Listener   Listener
	Clock      clock.Clock
	Logger     *zap.Logger

	ReconnectDelay    time.Duration
	KeepAliveInterval time.Duration
	WatchdogInterval  time.Duration

	// RunID tags debug events
	RunID string
}

// Client owns one backend session
type Client struct {
	opts     Options
	clock    clock.Clock
	logger   *zap.Logger
	listener Listener
	tracker  *Tracker
	store    *store.Store
	router   *mail.Router
	book     *diag.Book

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	session       domain.Session
	mode          domain.Mode
	state         map[string]any
	featureFlags  []string
	userFunctions []protocol.UserFunction
	runCode       string
	sourceFiles   map[string]json.RawMessage
	handshakes    int

	conn        Conn
	generation  int
	ready       bool
	established bool
	suspended   bool
	held        domain.ComponentMap
	heldSeq     int
	seq         int
	closed      bool

	reconnectBackoff backoff.BackOff
	reconnectTimer   *clock.Timer
}

// New creates an idle client. Call Init to connect.
func New(opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if opts.Router == nil {
		opts.Router = mail.NewRouter(opts.Logger)
	}
	if opts.Book == nil {
		opts.Book = diag.NewBook(diag.DefaultCapacity, opts.Clock)
	}
	if opts.Sessions == nil {
		opts.Sessions = &MemorySessionStore{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:             opts,
		clock:            opts.Clock,
		logger:           opts.Logger,
		listener:         opts.Listener,
		store:            opts.Store,
		router:           opts.Router,
		book:             opts.Book,
		ctx:              ctx,
		cancel:           cancel,
		state:            map[string]any{},
		session:          domain.Session{Health: domain.HealthIdle},
		reconnectBackoff: backoff.NewConstantBackOff(opts.ReconnectDelay),
	}
	c.tracker = NewTracker(TrackerOptions{
		Clock:            opts.Clock,
		Logger:           opts.Logger.Named("tracker"),
		WatchdogInterval: opts.WatchdogInterval,
		Enquire: func(cb Callback) {
			c.tracker.Send(c.ctx, protocol.TypeStateEnquiry, nil, cb, false)
		},
	})
	c.tracker.SetTransport(streamTransport{c})
	c.router.Subscribe(MailLogEntry, c.onLogMail)
	return c
}

// Init performs the handshake and opens the stream. A rejected handshake
// is returned as is; a stream that cannot be opened is retried in the
// background like any other disconnect.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if err := c.handshake(ctx); err != nil {
		return err
	}
	if err := c.openStream(ctx); err != nil {
		c.logger.Warn("stream open failed", zap.Error(err))
		c.updateHealth()
		c.scheduleReconnect(false)
	}
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	proposed := c.SessionID()
	if proposed == "" {
		stored, err := c.opts.Sessions.Load()
		if err != nil {
			c.logger.Debug("load session id", zap.Error(err))
		}
		proposed = stored
	}

	resp, err := c.opts.Handshaker.Handshake(ctx, protocol.HandshakeRequest{ProposedSessionID: proposed})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.handshakes++
	n := c.handshakes
	c.established = true
	c.session.ID = resp.SessionID
	c.session.EstablishedAt = c.clock.Now()
	c.mode = resp.Mode
	c.state = resp.UserState
	if c.state == nil {
		c.state = map[string]any{}
	}
	c.featureFlags = resp.FeatureFlags
	c.userFunctions = resp.UserFunctions
	c.runCode = resp.RunCode
	c.sourceFiles = resp.SourceFiles
	c.held = nil
	state := deepCopyMap(c.state)
	c.mu.Unlock()

	if err := c.opts.Sessions.Save(resp.SessionID); err != nil {
		c.logger.Debug("save session id", zap.Error(err))
	}

	c.logger.Info("session established",
		zap.String("session_id", resp.SessionID),
		zap.String("mode", string(resp.Mode)),
		zap.Int("handshake", n))

	report := c.store.Replace(resp.Components)
	c.logReport(report)
	c.listener.OnSession(domain.NewSessionEstablished(n, resp.SessionID, proposed, resp.Mode, c.store.Len()))
	c.listener.OnComponents(c.store.All(), report)
	c.listener.OnState(state)
	c.router.Deliver(resp.Mail)
	return nil
}

func (c *Client) openStream(ctx context.Context) error {
	conn, err := c.opts.Dialer.Dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	prev := c.conn
	c.generation++
	gen := c.generation
	c.conn = conn
	c.ready = false
	c.mu.Unlock()

	// The previous stream's read loop exits on its own close; its
	// generation is already retired.
	if prev != nil {
		_ = prev.Close()
	}
	// Calls from the previous stream fail before the new one accepts sends.
	if n := c.tracker.FailAll(ErrConnectionLost); n > 0 {
		c.logger.Debug("failed calls from previous stream", zap.Int("count", n))
	}

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		_ = conn.Close()
		c.logger.Debug("stream superseded before open", zap.Int("generation", gen))
		return nil
	}
	c.ready = true
	c.mu.Unlock()

	c.onOpen(gen)
	go c.readLoop(gen, conn)
	return nil
}

func (c *Client) onOpen(gen int) {
	c.reconnectBackoff.Reset()
	c.updateHealth()
	c.debug(gen, 0, "open")
	c.tracker.Send(c.ctx, protocol.TypeStreamInit, protocol.StreamInitPayload{SessionID: c.SessionID()}, nil, false)
	c.keepAlive(gen)
}

func (c *Client) readLoop(gen int, conn Conn) {
	for {
		msg, err := conn.Read()
		if err != nil {
			c.onClose(gen, err)
			return
		}
		if !c.current(gen) {
			return
		}
		c.onMessage(gen, msg)
	}
}

func (c *Client) onMessage(gen int, msg *protocol.Inbound) {
	c.mu.Lock()
	c.seq++
	c.mu.Unlock()

	switch msg.MessageType {
	case protocol.TypeAnnouncement:
		var a protocol.Announcement
		if err := json.Unmarshal(msg.Payload, &a); err != nil {
			c.logger.Debug("bad announcement", zap.Error(err))
			break
		}
		if a.Announce == protocol.AnnounceCodeUpdate {
			c.logger.Info("code update announced, re-handshaking")
			if c.retire(gen) {
				c.debug(gen, 0, "code_update")
				c.rehandshake()
			}
			return
		}
	case protocol.TypeEventResponse, protocol.TypeStateEnquiryResponse:
		var payload protocol.SyncPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				c.logger.Warn("bad sync payload", zap.String("type", msg.MessageType), zap.Error(err))
				break
			}
		}
		c.applySync(&payload)
	}
	c.tracker.Resolve(msg)
}

func (c *Client) applySync(payload *protocol.SyncPayload) {
	if len(payload.Mutations) > 0 {
		c.mu.Lock()
		err := IngestMutations(c.state, payload.Mutations)
		state := deepCopyMap(c.state)
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("ingest mutations", zap.Error(err))
		}
		c.listener.OnState(state)
	}

	if len(payload.Mail) > 0 {
		c.router.Deliver(payload.Mail)
	}

	if payload.Components != nil {
		c.mu.Lock()
		if c.suspended {
			c.held = payload.Components
			c.heldSeq = c.seq
			c.mu.Unlock()
			c.logger.Debug("component tree held while suspended", zap.Int("components", len(payload.Components)))
			return
		}
		c.mu.Unlock()
		c.replaceComponents(payload.Components)
	}
}

func (c *Client) replaceComponents(components domain.ComponentMap) {
	report := c.store.Replace(components)
	c.logReport(report)
	c.listener.OnComponents(c.store.All(), report)
}

func (c *Client) onClose(gen int, err error) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.ready = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	code := closeCode(err)
	c.tracker.FailAll(ErrConnectionLost)
	c.updateHealth()
	c.debug(gen, code, "close")

	if code == protocol.ClosePolicyViolation {
		c.logger.Info("session rejected by backend, re-handshaking", zap.Int("code", code))
		c.rehandshake()
		return
	}
	c.logger.Info("stream closed", zap.Int("code", code), zap.Error(err))
	c.scheduleReconnect(false)
}

// retire detaches the stream of generation gen so its close is ignored
func (c *Client) retire(gen int) bool {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return false
	}
	c.generation++
	conn := c.conn
	c.conn = nil
	c.ready = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.tracker.FailAll(ErrConnectionLost)
	c.updateHealth()
	return true
}

// rehandshake starts over with a fresh handshake and stream. Failures
// fall back to the reconnect timer.
func (c *Client) rehandshake() {
	c.debug(c.currentGeneration(), 0, "rehandshake")
	if err := c.handshake(c.ctx); err != nil {
		c.logger.Warn("re-handshake failed", zap.Error(err))
		c.scheduleReconnect(true)
		return
	}
	if err := c.openStream(c.ctx); err != nil {
		c.logger.Warn("stream open failed", zap.Error(err))
		c.scheduleReconnect(false)
	}
}

func (c *Client) scheduleReconnect(withHandshake bool) {
	delay := c.reconnectBackoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.reconnect(withHandshake) })
	gen := c.generation
	c.mu.Unlock()

	c.debug(gen, 0, "reconnect_scheduled")
}

func (c *Client) reconnect(withHandshake bool) {
	c.mu.Lock()
	if c.closed || c.ready {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	if withHandshake {
		c.rehandshake()
		return
	}
	if err := c.openStream(c.ctx); err != nil {
		c.logger.Warn("reconnect failed", zap.Error(err))
		c.scheduleReconnect(false)
	}
}

// keepAlive sends a keepAlive after the interval and re-arms once it is
// answered. It stops with its stream.
func (c *Client) keepAlive(gen int) {
	c.clock.AfterFunc(c.opts.KeepAliveInterval, func() {
		if !c.current(gen) {
			return
		}
		c.tracker.Send(c.ctx, protocol.TypeKeepAlive, nil, func(r Result) {
			if r.Err != nil {
				return
			}
			c.keepAlive(gen)
		}, false)
	})
}

func (c *Client) currentGeneration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Client) current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.ready && gen == c.generation
}

// Suspend holds inbound component trees until Resume, so a local write
// in progress is not overwritten
func (c *Client) Suspend() {
	c.mu.Lock()
	c.suspended = true
	c.mu.Unlock()
	c.updateHealth()
}

// Resume applies the latest held component tree, if any
func (c *Client) Resume() {
	c.mu.Lock()
	c.suspended = false
	held := c.held
	c.held = nil
	c.mu.Unlock()

	if held != nil {
		c.replaceComponents(held)
	}
	c.updateHealth()
}

// updateHealth recomputes health and notifies on change
func (c *Client) updateHealth() {
	c.mu.Lock()
	from := c.session.Health
	var to domain.Health
	switch {
	case c.closed || !c.established:
		to = domain.HealthIdle
	case !c.ready:
		to = domain.HealthOffline
	case c.suspended:
		to = domain.HealthSuspended
	default:
		to = domain.HealthConnected
	}
	c.session.Health = to
	c.mu.Unlock()

	if from != to {
		c.logger.Debug("health", zap.String("from", string(from)), zap.String("to", string(to)))
		c.listener.OnHealth(domain.NewHealthChange(from, to))
	}
}

func (c *Client) debug(gen, code int, reason string) {
	c.listener.OnDebug(&domain.SessionDebug{
		Type:          "session_debug",
		SchemaVersion: 1,
		RunID:         c.opts.RunID,
		SessionID:     c.SessionID(),
		Generation:    gen,
		CloseCode:     code,
		Reason:        reason,
	})
}

func (c *Client) logReport(r store.Report) {
	if r.OK() {
		return
	}
	c.logger.Warn("component tree repaired",
		zap.Bool("missing_root", r.MissingRoot),
		zap.Strings("orphans", r.Orphans),
		zap.Strings("repaired", r.Repaired))
}

func (c *Client) onLogMail(item domain.MailItem) {
	var entry diag.LogEntry
	if err := json.Unmarshal(item.Payload, &entry); err != nil {
		c.logger.Debug("bad log entry mail", zap.Error(err))
		return
	}
	stored := c.book.Add(entry)
	c.listener.OnLog(stored)
}

// Call sends msgType and waits for the matching reply, the loss of the
// connection, or ctx
func (c *Client) Call(ctx context.Context, msgType string, payload any, track bool) (*protocol.Inbound, error) {
	cb, result := NewBlockingCallback()
	c.tracker.Send(ctx, msgType, payload, cb, track)
	select {
	case r := <-result:
		return r.Message, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendComponentUpdate sends the builder-managed components and waits for
// the backend to acknowledge them. A tree held while suspended that
// arrived before the acknowledgement predates this update and is dropped.
func (c *Client) SendComponentUpdate(ctx context.Context) error {
	cb, result := NewBlockingCallback()
	c.tracker.Send(ctx, protocol.TypeComponentUpdate, Producer(func(context.Context) (any, error) {
		return protocol.ComponentUpdatePayload{Components: c.store.BuilderManaged()}, nil
	}), func(r Result) {
		if r.Err == nil {
			c.dropStaleHeld()
		}
		cb(r)
	}, false)
	select {
	case r := <-result:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dropStaleHeld runs on the reader goroutine while the acknowledgement is
// the current message, so c.seq is the acknowledgement's sequence number
func (c *Client) dropStaleHeld() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held != nil && c.heldSeq < c.seq {
		c.logger.Debug("dropping component tree superseded by local update", zap.Int("components", len(c.held)))
		c.held = nil
	}
}

// SendEvent forwards a frontend event and returns the backend's result
func (c *Client) SendEvent(ctx context.Context, ev protocol.EventPayload) (json.RawMessage, error) {
	msg, err := c.Call(ctx, protocol.TypeEvent, ev, true)
	if err != nil {
		return nil, err
	}
	var payload protocol.SyncPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return nil, err
		}
	}
	return payload.Result, nil
}

// EnquireState asks the backend for pending mutations and mail
func (c *Client) EnquireState(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.TypeStateEnquiry, nil, false)
	return err
}

// SaveCode replaces the main application source (edit mode)
func (c *Client) SaveCode(ctx context.Context, code string) error {
	_, err := c.Call(ctx, protocol.TypeCodeSaveRequest, protocol.CodeSavePayload{Code: code}, false)
	return err
}

// CreateSourceFile adds a source file (edit mode)
func (c *Client) CreateSourceFile(ctx context.Context, path []string) error {
	_, err := c.Call(ctx, protocol.TypeCreateSourceFile, protocol.SourceFilePayload{Path: path}, false)
	return err
}

// RenameSourceFile moves a source file (edit mode)
func (c *Client) RenameSourceFile(ctx context.Context, from, to []string) error {
	_, err := c.Call(ctx, protocol.TypeRenameSourceFile, protocol.RenameSourceFilePayload{From: from, To: to}, false)
	return err
}

// DeleteSourceFile removes a source file (edit mode)
func (c *Client) DeleteSourceFile(ctx context.Context, path []string) error {
	_, err := c.Call(ctx, protocol.TypeDeleteSourceFile, protocol.SourceFilePayload{Path: path}, false)
	return err
}

// LoadSourceFile returns the raw reply payload for a source file
func (c *Client) LoadSourceFile(ctx context.Context, path []string) (json.RawMessage, error) {
	msg, err := c.Call(ctx, protocol.TypeLoadSourceFile, protocol.SourceFilePayload{Path: path}, false)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// RequestHash asks the backend for its hash of the current application
func (c *Client) RequestHash(ctx context.Context) (json.RawMessage, error) {
	msg, err := c.Call(ctx, protocol.TypeHashRequest, nil, false)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// Session returns a copy of the session record
func (c *Client) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SessionID returns the current session id, "" before the first handshake
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID
}

// Health returns the current connection health
func (c *Client) Health() domain.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Health
}

// Mode returns the mode granted on the last handshake
func (c *Client) Mode() domain.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// State returns a deep copy of the application state
func (c *Client) State() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deepCopyMap(c.state)
}

// FeatureFlags returns the flags granted on the last handshake
func (c *Client) FeatureFlags() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.featureFlags...)
}

// UserFunctions returns the handler signatures (edit mode only)
func (c *Client) UserFunctions() []protocol.UserFunction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.UserFunction(nil), c.userFunctions...)
}

// RunCode returns the application source (edit mode only)
func (c *Client) RunCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCode
}

// SourceFiles returns the source listing (edit mode only)
func (c *Client) SourceFiles() map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]json.RawMessage, len(c.sourceFiles))
	for k, v := range c.sourceFiles {
		out[k] = v
	}
	return out
}

// Store returns the component store fed by this client
func (c *Client) Store() *store.Store { return c.store }

// Router returns the mail router fed by this client
func (c *Client) Router() *mail.Router { return c.router }

// Book returns the diagnostic log book
func (c *Client) Book() *diag.Book { return c.book }

// Tracker returns the message tracker
func (c *Client) Tracker() *Tracker { return c.tracker }

// Close tears the session down and fails every pending call
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.generation++
	conn := c.conn
	c.conn = nil
	c.ready = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	c.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.tracker.FailAll(ErrClosed)
	c.updateHealth()
	return err
}

// streamTransport exposes the current stream to the tracker
type streamTransport struct{ c *Client }

func (t streamTransport) Ready() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.c.ready && t.c.conn != nil
}

func (t streamTransport) Send(msg protocol.Outbound) error {
	t.c.mu.Lock()
	conn := t.c.conn
	t.c.mu.Unlock()
	if conn == nil {
		return ErrTransportNotReady
	}
	if err := conn.Write(msg); err != nil {
		if errors.Is(err, ErrTransportNotReady) {
			return err
		}
		return errors.Join(ErrConnectionLost, err)
	}
	return nil
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
