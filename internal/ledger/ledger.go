// Package ledger records edits to the component tree as undoable
// transactions.
package ledger

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/bsync/internal/domain"
)

// DefaultDebounceWindow is how long after closing a debounced transaction
// a reopen with the same id keeps extending it
const DefaultDebounceWindow = 1000 * time.Millisecond

// Mutation holds the before/after snapshots of one component within a
// transaction. A nil JSONPre means the component was created; a nil
// JSONPost means it was deleted.
type Mutation struct {
	JSONPre  json.RawMessage `json:"jsonPre,omitempty"`
	JSONPost json.RawMessage `json:"jsonPost,omitempty"`
}

// Transaction is one undoable unit of edits
type Transaction struct {
	ID          string               `json:"id"`
	Description string               `json:"description"`
	Timestamp   *time.Time           `json:"timestamp,omitempty"`
	Debounce    bool                 `json:"debounceEnabled"`
	Mutations   map[string]*Mutation `json:"mutations"`
}

// State is the undo/redo summary exposed to the UI
type State struct {
	CanUndo         bool   `json:"canUndo"`
	CanRedo         bool   `json:"canRedo"`
	UndoDescription string `json:"undoDescription,omitempty"`
	RedoDescription string `json:"redoDescription,omitempty"`
}

// Options configures a Ledger
type Options struct {
	DebounceWindow time.Duration
	Clock          clock.Clock
	Logger         *zap.Logger
	OnChange       func(State)
}

// Ledger is an append-only log of closed transactions with a cursor.
// Entries before the cursor can be undone; entries at or after it can be
// redone. At most one transaction is open at a time.
type Ledger struct {
	mu       sync.Mutex
	window   time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	onChange func(State)

	entries []*Transaction
	cursor  int
	active  *Transaction
	state   State
}

// New creates an empty ledger
func New(opts Options) *Ledger {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ledger{
		window:   opts.DebounceWindow,
		clock:    opts.Clock,
		logger:   opts.Logger,
		onChange: opts.OnChange,
	}
}

// Open starts a transaction. It is a no-op while another transaction is
// open. Redo history past the cursor is discarded. When the last closed
// transaction has the same id, has debounce enabled and was closed less
// than the debounce window ago, it is reopened instead of starting a new
// one.
func (l *Ledger) Open(id, description string, debounce bool) {
	l.mu.Lock()

	if l.active != nil {
		l.logger.Debug("transaction already open",
			zap.String("active", l.active.ID), zap.String("requested", id))
		l.mu.Unlock()
		return
	}

	var notify func(State)
	var state State
	if l.cursor < len(l.entries) {
		l.entries = l.entries[:l.cursor]
		state, notify = l.refresh()
	}
	l.openLocked(id, description, debounce)
	l.mu.Unlock()

	if notify != nil {
		notify(state)
	}
}

// openLocked reuses a recent debounced transaction or starts a new one;
// callers hold l.mu
func (l *Ledger) openLocked(id, description string, debounce bool) {
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		if last.ID == id && last.Debounce && last.Timestamp != nil &&
			l.clock.Since(*last.Timestamp) < l.window {
			l.entries = l.entries[:n-1]
			l.cursor = len(l.entries)
			last.Timestamp = nil
			l.active = last
			return
		}
	}

	l.active = &Transaction{
		ID:          id,
		Description: description,
		Debounce:    debounce,
		Mutations:   make(map[string]*Mutation),
	}
}

// RegisterPreMutation captures the state of c before it is mutated. Only
// the first capture per component within a transaction is kept.
func (l *Ledger) RegisterPreMutation(c *domain.Component) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == nil || c == nil {
		return
	}
	if _, ok := l.active.Mutations[c.ID]; ok {
		return
	}
	l.active.Mutations[c.ID] = &Mutation{JSONPre: snapshot(c)}
}

// RegisterPostMutation captures the state of c after it was mutated,
// overwriting any earlier capture in the same transaction.
func (l *Ledger) RegisterPostMutation(c *domain.Component) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == nil || c == nil {
		return
	}
	m, ok := l.active.Mutations[c.ID]
	if !ok {
		m = &Mutation{}
		l.active.Mutations[c.ID] = m
	}
	m.JSONPost = snapshot(c)
}

// RegisterDeletion records that c is about to be removed. A component
// created and deleted within the same transaction leaves no trace.
func (l *Ledger) RegisterDeletion(c *domain.Component) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == nil || c == nil {
		return
	}
	m, ok := l.active.Mutations[c.ID]
	if !ok {
		l.active.Mutations[c.ID] = &Mutation{JSONPre: snapshot(c)}
		return
	}
	if m.JSONPre == nil {
		delete(l.active.Mutations, c.ID)
		return
	}
	m.JSONPost = nil
}

// Close stamps the open transaction and appends it to the ledger. It is a
// no-op when id does not match the open transaction.
func (l *Ledger) Close(id string) {
	l.mu.Lock()
	if l.active == nil || l.active.ID != id {
		l.mu.Unlock()
		l.logger.Debug("ignoring close of transaction that is not open", zap.String("id", id))
		return
	}
	now := l.clock.Now()
	l.active.Timestamp = &now
	l.entries = append(l.entries, l.active)
	l.cursor = len(l.entries)
	l.active = nil
	state, cb := l.refresh()
	l.mu.Unlock()

	if cb != nil {
		cb(state)
	}
}

// ConsumeUndo moves the cursor back one step and returns the transaction
// to undo, or nil when there is nothing to undo
func (l *Ledger) ConsumeUndo() *Transaction {
	l.mu.Lock()
	if l.cursor-1 < 0 || l.cursor-1 >= len(l.entries) {
		l.mu.Unlock()
		return nil
	}
	l.cursor--
	tx := l.entries[l.cursor]
	state, cb := l.refresh()
	l.mu.Unlock()

	if cb != nil {
		cb(state)
	}
	return tx
}

// ConsumeRedo moves the cursor forward one step and returns the
// transaction to redo, or nil when there is nothing to redo
func (l *Ledger) ConsumeRedo() *Transaction {
	l.mu.Lock()
	if l.cursor >= len(l.entries) {
		l.mu.Unlock()
		return nil
	}
	tx := l.entries[l.cursor]
	l.cursor++
	state, cb := l.refresh()
	l.mu.Unlock()

	if cb != nil {
		cb(state)
	}
	return tx
}

// State returns the current undo/redo summary
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Active returns the id of the open transaction, or "" when none is open
func (l *Ledger) Active() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return ""
	}
	return l.active.ID
}

// Len returns the number of closed transactions, including redoable ones
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Offset returns how far back the cursor sits from the tip (always <= 0)
func (l *Ledger) Offset() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor - len(l.entries)
}

// refresh recomputes the exposed state; callers hold l.mu
func (l *Ledger) refresh() (State, func(State)) {
	s := State{}
	if l.cursor > 0 {
		s.CanUndo = true
		s.UndoDescription = l.entries[l.cursor-1].Description
	}
	if l.cursor < len(l.entries) {
		s.CanRedo = true
		s.RedoDescription = l.entries[l.cursor].Description
	}
	l.state = s
	return s, l.onChange
}

func snapshot(c *domain.Component) json.RawMessage {
	b, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return b
}
