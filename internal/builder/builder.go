// Package builder applies the editor's structural edits to the component
// store, recording each one in the ledger so it can be undone.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/ledger"
	"github.com/vburojevic/bsync/internal/store"
)

// Syncer pushes the builder-managed tree to the backend
type Syncer interface {
	SendComponentUpdate(ctx context.Context) error
}

// Suspender is implemented by syncers that can hold inbound component
// trees while a local edit is applied and synced
type Suspender interface {
	Suspend()
	Resume()
}

// Builder wraps every edit in a ledger transaction. Edits are serialised
// so only one transaction is ever open.
type Builder struct {
	mu       sync.Mutex
	store    *store.Store
	ledger   *ledger.Ledger
	syncer   Syncer
	suspend  Suspender
	registry *domain.Registry
	logger   *zap.Logger
	newID    func() string
}

// New creates a builder. syncer may be nil for offline editing.
func New(s *store.Store, l *ledger.Ledger, syncer Syncer, registry *domain.Registry, logger *zap.Logger) *Builder {
	if registry == nil {
		registry = domain.DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	suspend, _ := syncer.(Suspender)
	return &Builder{
		store:    s,
		ledger:   l,
		syncer:   syncer,
		suspend:  suspend,
		registry: registry,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Create adds a component of componentType under parentID at position and
// returns its id. A negative or out of range position appends.
func (b *Builder) Create(ctx context.Context, componentType, parentID string, position int, content map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.hold()()

	parent, err := b.store.Get(parentID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownComponent, parentID)
	}
	if !b.isContainer(parent) {
		return "", fmt.Errorf("%w: %s is not a container", ErrInvalidParent, parentID)
	}

	desc, known := b.registry.Lookup(componentType)
	if !known {
		b.logger.Debug("creating component of unregistered type", zap.String("type", componentType))
	}

	c := &domain.Component{
		ID:       b.newID(),
		ParentID: parentID,
		Type:     componentType,
		Content:  lo.Assign(map[string]string{}, content),
	}

	tx := "create-" + c.ID
	b.ledger.Open(tx, "Create "+desc.Name, false)
	if desc.Positionless {
		c.Position = domain.Positionless
		b.put(c)
	} else {
		siblings := b.ordered(parentID, "")
		b.reorder(insertAt(siblings, c, position))
	}
	b.ledger.Close(tx)

	return c.ID, b.sync(ctx)
}

// Delete removes id and its whole subtree, then closes the gap it left
// among its siblings
func (b *Builder) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.hold()()

	if id == domain.RootID {
		return ErrRootImmutable
	}
	c, err := b.editable(id)
	if err != nil {
		return err
	}

	tx := "delete-" + id
	b.ledger.Open(tx, "Delete "+b.name(c), false)
	for _, victim := range append([]string{id}, b.store.Descendants(id)...) {
		v, err := b.store.Get(victim)
		if err != nil {
			continue
		}
		b.ledger.RegisterDeletion(v)
		b.store.Delete(victim)
	}
	if !c.IsPositionless() {
		b.reorder(b.ordered(c.ParentID, ""))
	}
	b.ledger.Close(tx)

	return b.sync(ctx)
}

// SetContent sets one content field. Consecutive edits of the same field
// collapse into a single undo step.
func (b *Builder) SetContent(ctx context.Context, id, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.hold()()

	c, err := b.editable(id)
	if err != nil {
		return err
	}
	tx := fmt.Sprintf("edit-content-%s-%s", id, key)
	b.ledger.Open(tx, fmt.Sprintf("Edit property %q", key), true)
	b.mutate(c, func(c *domain.Component) {
		c.Content[key] = value
	})
	b.ledger.Close(tx)

	return b.sync(ctx)
}

// SetHandler binds handler to event; an empty handler removes the binding
func (b *Builder) SetHandler(ctx context.Context, id, event, handler string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.hold()()

	c, err := b.editable(id)
	if err != nil {
		return err
	}
	tx := fmt.Sprintf("edit-handler-%s-%s", id, event)
	b.ledger.Open(tx, fmt.Sprintf("Edit handler %q", event), false)
	b.mutate(c, func(c *domain.Component) {
		if handler == "" {
			delete(c.Handlers, event)
			if len(c.Handlers) == 0 {
				c.Handlers = nil
			}
			return
		}
		if c.Handlers == nil {
			c.Handlers = map[string]string{}
		}
		c.Handlers[event] = handler
	})
	b.ledger.Close(tx)

	return b.sync(ctx)
}

// Move reparents id under parentID at position, renumbering both the old
// and the new siblings
func (b *Builder) Move(ctx context.Context, id, parentID string, position int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.hold()()

	if id == domain.RootID {
		return ErrRootImmutable
	}
	c, err := b.editable(id)
	if err != nil {
		return err
	}
	parent, err := b.store.Get(parentID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, parentID)
	}
	if parentID == id || slices.Contains(b.store.Descendants(id), parentID) || !b.isContainer(parent) {
		return fmt.Errorf("%w: %s", ErrInvalidParent, parentID)
	}

	tx := "move-" + id
	b.ledger.Open(tx, "Move "+b.name(c), false)
	oldParent := c.ParentID
	b.ledger.RegisterPreMutation(c)
	c.ParentID = parentID
	if c.IsPositionless() {
		b.put(c)
	} else {
		if oldParent != parentID {
			b.reorder(b.ordered(oldParent, id))
		}
		b.reorder(insertAt(b.ordered(parentID, id), c, position))
		b.put(c)
	}
	b.ledger.Close(tx)

	return b.sync(ctx)
}

// Undo reverts the most recent transaction. It reports false when there
// was nothing to undo.
func (b *Builder) Undo(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.hold()()

	tx := b.ledger.ConsumeUndo()
	if tx == nil {
		return false, nil
	}
	if err := b.replay(tx, true); err != nil {
		return true, err
	}
	return true, b.sync(ctx)
}

// Redo re-applies the most recently undone transaction
func (b *Builder) Redo(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.hold()()

	tx := b.ledger.ConsumeRedo()
	if tx == nil {
		return false, nil
	}
	if err := b.replay(tx, false); err != nil {
		return true, err
	}
	return true, b.sync(ctx)
}

// replay restores the snapshots of tx. Components with both snapshots are
// restored to one of them; created components (post only) are deleted on
// undo and recreated on redo; deleted ones (pre only) the other way round.
func (b *Builder) replay(tx *ledger.Transaction, undo bool) error {
	for id, m := range tx.Mutations {
		var snapshot json.RawMessage
		switch {
		case m.JSONPre != nil && m.JSONPost != nil:
			snapshot = lo.Ternary(undo, m.JSONPre, m.JSONPost)
		case m.JSONPost != nil:
			snapshot = lo.Ternary(undo, nil, m.JSONPost)
		case m.JSONPre != nil:
			snapshot = lo.Ternary(undo, m.JSONPre, nil)
		}

		if snapshot == nil {
			b.store.Delete(id)
			continue
		}
		var c domain.Component
		if err := json.Unmarshal(snapshot, &c); err != nil {
			return fmt.Errorf("restore %s: %w", id, err)
		}
		if c.Content == nil {
			c.Content = map[string]string{}
		}
		b.store.Put(&c)
	}
	return nil
}

// hold suspends inbound tree replacement until the returned func runs,
// which callers defer past their sync
func (b *Builder) hold() func() {
	if b.suspend == nil {
		return func() {}
	}
	b.suspend.Suspend()
	return b.suspend.Resume
}

func (b *Builder) sync(ctx context.Context) error {
	if b.syncer == nil {
		return nil
	}
	if err := b.syncer.SendComponentUpdate(ctx); err != nil {
		b.logger.Warn("component sync failed", zap.Error(err))
		return fmt.Errorf("sync components: %w", err)
	}
	return nil
}

func (b *Builder) editable(id string) (*domain.Component, error) {
	c, err := b.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, id)
	}
	if c.IsCodeManaged {
		return nil, fmt.Errorf("%w: %s", ErrCodeManaged, id)
	}
	return c, nil
}

func (b *Builder) isContainer(c *domain.Component) bool {
	desc, known := b.registry.Lookup(c.Type)
	return !known || desc.Container
}

func (b *Builder) name(c *domain.Component) string {
	desc, _ := b.registry.Lookup(c.Type)
	return desc.Name
}

// ordered returns the position-bearing builder-managed children of
// parentID, skipping exclude
func (b *Builder) ordered(parentID, exclude string) []*domain.Component {
	return lo.Filter(b.store.Children(parentID), func(c *domain.Component, _ int) bool {
		return c.ID != exclude && !c.IsPositionless() && c.IsBuilderManaged()
	})
}

// reorder assigns positions 0..n-1, recording every component it touches
func (b *Builder) reorder(children []*domain.Component) {
	for i, c := range children {
		stored, err := b.store.Get(c.ID)
		if err == nil && stored.Position == i && stored.ParentID == c.ParentID {
			continue
		}
		b.ledger.RegisterPreMutation(stored)
		c.Position = i
		b.put(c)
	}
}

// mutate records c around fn
func (b *Builder) mutate(c *domain.Component, fn func(*domain.Component)) {
	b.ledger.RegisterPreMutation(c)
	fn(c)
	b.put(c)
}

func (b *Builder) put(c *domain.Component) {
	b.store.Put(c)
	b.ledger.RegisterPostMutation(c)
}

func insertAt(siblings []*domain.Component, c *domain.Component, position int) []*domain.Component {
	if position < 0 || position > len(siblings) {
		position = len(siblings)
	}
	return slices.Insert(siblings, position, c)
}
