package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/bsync/internal/protocol"
)

// DefaultWatchdogInterval is how often a tracked call with no reply
// triggers a state enquiry
const DefaultWatchdogInterval = 150 * time.Millisecond

// Result is the outcome of an outbound call: the matching reply, or an
// error when the call could not be sent or the connection was lost
type Result struct {
	Message *protocol.Inbound
	Err     error
}

// Callback receives the Result of a call exactly once
type Callback func(Result)

// Producer builds a payload lazily, right before it is sent
type Producer func(ctx context.Context) (any, error)

// Transport is the outbound half of the duplex stream
type Transport interface {
	Ready() bool
	Send(msg protocol.Outbound) error
}

// NewBlockingCallback returns a callback and the channel it reports to,
// for callers that prefer waiting on a future
func NewBlockingCallback() (Callback, <-chan Result) {
	c := make(chan Result, 1)
	return func(r Result) { c <- r }, c
}

// TrackerOptions configures a Tracker
type TrackerOptions struct {
	Clock            clock.Clock
	Logger           *zap.Logger
	WatchdogInterval time.Duration
	// Enquire issues a state enquiry for the watchdog; nil disables it
	Enquire func(cb Callback)
}

// Tracker stamps outbound messages with increasing tracking ids and
// matches replies to the callbacks waiting for them
type Tracker struct {
	mu        sync.Mutex
	clock     clock.Clock
	logger    *zap.Logger
	interval  time.Duration
	enquire   func(cb Callback)
	transport Transport
	nextID    int
	pending   map[int]Callback
}

// NewTracker creates a tracker with no transport attached
func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = DefaultWatchdogInterval
	}
	return &Tracker{
		clock:    opts.Clock,
		logger:   opts.Logger,
		interval: opts.WatchdogInterval,
		enquire:  opts.Enquire,
		pending:  make(map[int]Callback),
	}
}

// SetTransport attaches the transport used by Send
func (t *Tracker) SetTransport(tr Transport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transport = tr
}

// Send transmits a message and returns its tracking id. When cb is set or
// track is true the id is recorded as pending until a reply or teardown.
// If the transport is not ready cb is invoked synchronously with
// ErrTransportNotReady and nothing is sent or recorded. payload may be a
// Producer, which is resolved after the id is recorded.
func (t *Tracker) Send(ctx context.Context, msgType string, payload any, cb Callback, track bool) int {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	tr := t.transport
	if tr == nil || !tr.Ready() {
		t.mu.Unlock()
		t.logger.Debug("send while transport not ready", zap.String("type", msgType), zap.Int("tracking_id", id))
		if cb != nil {
			cb(Result{Err: ErrTransportNotReady})
		}
		return id
	}
	recorded := cb != nil || track
	if recorded {
		t.pending[id] = cb
	}
	t.mu.Unlock()

	if producer, ok := payload.(Producer); ok {
		resolved, err := producer(ctx)
		if err != nil {
			t.fail(id, cb, err)
			return id
		}
		payload = resolved
	}

	if err := tr.Send(protocol.Outbound{Type: msgType, TrackingID: id, Payload: payload}); err != nil {
		t.logger.Debug("send failed", zap.String("type", msgType), zap.Int("tracking_id", id), zap.Error(err))
		t.fail(id, cb, err)
		return id
	}

	if track {
		t.watch(id)
	}
	return id
}

// Resolve completes the call matching msg.TrackingID, if any
func (t *Tracker) Resolve(msg *protocol.Inbound) bool {
	if msg == nil || msg.TrackingID == 0 {
		return false
	}
	t.mu.Lock()
	cb, ok := t.pending[msg.TrackingID]
	delete(t.pending, msg.TrackingID)
	t.mu.Unlock()

	if !ok {
		return false
	}
	if cb != nil {
		cb(Result{Message: msg})
	}
	return true
}

// FailAll invokes every pending callback with err and clears the table
func (t *Tracker) FailAll(err error) int {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int]Callback)
	t.mu.Unlock()

	for _, cb := range pending {
		if cb != nil {
			cb(Result{Err: err})
		}
	}
	return len(pending)
}

// IsPending reports whether id still waits for a reply
func (t *Tracker) IsPending(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Len returns the number of pending calls
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) fail(id int, cb Callback, err error) {
	t.mu.Lock()
	_, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()

	// FailAll may already have reported this id
	if ok && cb != nil {
		cb(Result{Err: err})
	}
}

// watch polls for a reply to id. While it is missing a state enquiry is
// issued, and the next poll is armed once that enquiry completes. The
// watchdog never resolves id itself.
func (t *Tracker) watch(id int) {
	if t.enquire == nil {
		return
	}
	t.clock.AfterFunc(t.interval, func() {
		if !t.IsPending(id) {
			return
		}
		t.logger.Debug("reply overdue, enquiring state", zap.Int("tracking_id", id))
		t.enquire(func(Result) { t.watch(id) })
	})
}
