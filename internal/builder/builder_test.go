package builder

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/ledger"
	"github.com/vburojevic/bsync/internal/store"
)

type countingSyncer struct {
	calls int
	err   error
}

func (s *countingSyncer) SendComponentUpdate(context.Context) error {
	s.calls++
	return s.err
}

type fixture struct {
	builder *Builder
	store   *store.Store
	ledger  *ledger.Ledger
	clock   *clock.Mock
	syncer  *countingSyncer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  store.New(),
		clock:  clock.NewMock(),
		syncer: &countingSyncer{},
	}
	f.ledger = ledger.New(ledger.Options{Clock: f.clock})
	f.store.Replace(domain.ComponentMap{
		"root": {ID: "root", Type: "root", Content: map[string]string{}},
		"page": {ID: "page", ParentID: "root", Type: "page", Content: map[string]string{"key": "home"}},
		"a":    {ID: "a", ParentID: "page", Type: "text", Content: map[string]string{"text": "A"}, Position: 0},
		"b":    {ID: "b", ParentID: "page", Type: "text", Content: map[string]string{"text": "B"}, Position: 1},
		"code": {ID: "code", ParentID: "page", Type: "text", Content: map[string]string{}, Position: 0, IsCodeManaged: true},
	})
	f.builder = New(f.store, f.ledger, f.syncer, nil, nil)
	n := 0
	f.builder.newID = func() string {
		n++
		return "new" + strconv.Itoa(n)
	}
	return f
}

func (f *fixture) positions(parentID string) map[string]int {
	out := map[string]int{}
	for _, c := range f.store.Children(parentID) {
		if c.IsBuilderManaged() {
			out[c.ID] = c.Position
		}
	}
	return out
}

func TestCreateInsertsAndShiftsSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.builder.Create(ctx, "button", "page", 1, map[string]string{"text": "Go"})
	require.NoError(t, err)
	assert.Equal(t, "new1", id)
	assert.Equal(t, map[string]int{"a": 0, "new1": 1, "b": 2}, f.positions("page"))
	assert.Equal(t, 1, f.syncer.calls)
	assert.Equal(t, "Create Button", f.ledger.State().UndoDescription)

	// Out of range appends
	id, err = f.builder.Create(ctx, "text", "page", 99, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, f.positions("page")[id])
}

func TestCreatePositionless(t *testing.T) {
	f := newFixture(t)
	id, err := f.builder.Create(context.Background(), "sidebar", "root", 0, nil)
	require.NoError(t, err)

	c, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.Positionless, c.Position)
	assert.Equal(t, 0, f.positions("root")["page"])
}

func TestCreateRejectsBadParent(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Create(context.Background(), "text", "ghost", 0, nil)
	assert.ErrorIs(t, err, ErrUnknownComponent)

	_, err = f.builder.Create(context.Background(), "text", "a", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidParent)
	assert.Equal(t, 0, f.ledger.Len())
}

func TestUndoRedoCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.store.All()

	_, err := f.builder.Create(ctx, "text", "page", 0, nil)
	require.NoError(t, err)
	after := f.store.All()

	ok, err := f.builder.Undo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before, f.store.All())

	ok, err = f.builder.Redo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, after, f.store.All())
}

func TestDeleteSubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	section, err := f.builder.Create(ctx, "section", "page", 0, nil)
	require.NoError(t, err)
	_, err = f.builder.Create(ctx, "text", section, 0, map[string]string{"text": "inner"})
	require.NoError(t, err)
	before := f.store.All()

	require.NoError(t, f.builder.Delete(ctx, section))
	assert.False(t, f.store.Has(section))
	assert.False(t, f.store.Has("new2"))
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, f.positions("page"))

	ok, err := f.builder.Undo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before, f.store.All())
}

func TestDeleteGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.builder.Delete(ctx, "root"), ErrRootImmutable)
	assert.ErrorIs(t, f.builder.Delete(ctx, "code"), ErrCodeManaged)
	assert.ErrorIs(t, f.builder.Delete(ctx, "ghost"), ErrUnknownComponent)
	assert.Equal(t, 0, f.syncer.calls)
}

func TestSetContentDebounce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.builder.SetContent(ctx, "a", "text", "Ab"))
	f.clock.Add(500 * time.Millisecond)
	require.NoError(t, f.builder.SetContent(ctx, "a", "text", "Abc"))
	assert.Equal(t, 1, f.ledger.Len(), "keystrokes inside the window collapse")

	f.clock.Add(1001 * time.Millisecond)
	require.NoError(t, f.builder.SetContent(ctx, "a", "text", "Abcd"))
	assert.Equal(t, 2, f.ledger.Len())

	ok, err := f.builder.Undo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	a, _ := f.store.Get("a")
	assert.Equal(t, "Abc", a.Content["text"])

	_, err = f.builder.Undo(ctx)
	require.NoError(t, err)
	a, _ = f.store.Get("a")
	assert.Equal(t, "A", a.Content["text"])

	ok, err = f.builder.Undo(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetContentRejectsCodeManaged(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.builder.SetContent(context.Background(), "code", "text", "x"), ErrCodeManaged)
}

func TestSetHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.builder.SetHandler(ctx, "b", "click", "on_click"))
	b, _ := f.store.Get("b")
	assert.Equal(t, map[string]string{"click": "on_click"}, b.Handlers)

	require.NoError(t, f.builder.SetHandler(ctx, "b", "click", ""))
	b, _ = f.store.Get("b")
	assert.Nil(t, b.Handlers)
}

func TestMoveBetweenParents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	section, err := f.builder.Create(ctx, "section", "page", 2, nil)
	require.NoError(t, err)
	before := f.store.All()

	require.NoError(t, f.builder.Move(ctx, "a", section, 0))
	assert.Equal(t, map[string]int{"b": 0, section: 1}, f.positions("page"))
	assert.Equal(t, map[string]int{"a": 0}, f.positions(section))

	_, err = f.builder.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, f.store.All())
}

func TestMoveWithinParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.builder.Move(ctx, "b", "page", 0))
	assert.Equal(t, map[string]int{"b": 0, "a": 1}, f.positions("page"))

	// Moving to the current spot is recorded but changes nothing
	before := f.store.All()
	require.NoError(t, f.builder.Move(ctx, "b", "page", 0))
	_, err := f.builder.Undo(ctx)
	require.NoError(t, err)
	_, err = f.builder.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, f.store.All())
}

func TestMoveGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	section, err := f.builder.Create(ctx, "section", "page", 0, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.builder.Move(ctx, "root", "page", 0), ErrRootImmutable)
	assert.ErrorIs(t, f.builder.Move(ctx, "page", section, 0), ErrInvalidParent)
	assert.ErrorIs(t, f.builder.Move(ctx, "a", "b", 0), ErrInvalidParent)
	assert.ErrorIs(t, f.builder.Move(ctx, "a", "ghost", 0), ErrUnknownComponent)
}

func TestUndoRedoRoundTripOverSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var snapshots []domain.ComponentMap
	snapshots = append(snapshots, f.store.All())

	section, err := f.builder.Create(ctx, "section", "page", 0, nil)
	require.NoError(t, err)
	snapshots = append(snapshots, f.store.All())

	require.NoError(t, f.builder.SetContent(ctx, section, "title", "Hello"))
	snapshots = append(snapshots, f.store.All())

	require.NoError(t, f.builder.Move(ctx, "b", section, 0))
	snapshots = append(snapshots, f.store.All())

	require.NoError(t, f.builder.Delete(ctx, "a"))
	snapshots = append(snapshots, f.store.All())

	for i := len(snapshots) - 2; i >= 0; i-- {
		ok, err := f.builder.Undo(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, snapshots[i], f.store.All(), "after undo to step %d", i)
		assert.True(t, f.store.Validate().OK())
	}
	for i := 1; i < len(snapshots); i++ {
		ok, err := f.builder.Redo(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, snapshots[i], f.store.All(), "after redo to step %d", i)
	}
}

func TestNewEditDiscardsRedo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.builder.SetContent(ctx, "a", "text", "1"))
	require.NoError(t, f.builder.SetContent(ctx, "b", "text", "2"))
	_, err := f.builder.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, f.ledger.State().CanRedo)

	require.NoError(t, f.builder.SetHandler(ctx, "a", "click", "h"))
	assert.False(t, f.ledger.State().CanRedo)
	ok, err := f.builder.Redo(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.syncer.err = errors.New("offline")

	err := f.builder.SetContent(context.Background(), "a", "text", "x")
	require.Error(t, err)
	// The local edit and its ledger entry survive
	a, _ := f.store.Get("a")
	assert.Equal(t, "x", a.Content["text"])
	assert.Equal(t, 1, f.ledger.Len())
}

// suspendingSyncer records the order of suspend, sync and resume calls
type suspendingSyncer struct {
	events []string
}

func (s *suspendingSyncer) SendComponentUpdate(context.Context) error {
	s.events = append(s.events, "sync")
	return nil
}

func (s *suspendingSyncer) Suspend() { s.events = append(s.events, "suspend") }
func (s *suspendingSyncer) Resume()  { s.events = append(s.events, "resume") }

func TestEditsSuspendUntilSynced(t *testing.T) {
	f := newFixture(t)
	s := &suspendingSyncer{}
	f.builder = New(f.store, f.ledger, s, nil, nil)
	ctx := context.Background()

	id, err := f.builder.Create(ctx, "text", "page", -1, nil)
	require.NoError(t, err)
	require.NoError(t, f.builder.SetContent(ctx, id, "text", "x"))
	require.NoError(t, f.builder.SetHandler(ctx, id, "click", "go"))
	require.NoError(t, f.builder.Move(ctx, id, "page", 0))
	require.NoError(t, f.builder.Delete(ctx, id))
	_, err = f.builder.Undo(ctx)
	require.NoError(t, err)
	_, err = f.builder.Redo(ctx)
	require.NoError(t, err)

	want := []string{}
	for range 7 {
		want = append(want, "suspend", "sync", "resume")
	}
	assert.Equal(t, want, s.events)

	// rejected edits still release the hold
	s.events = nil
	assert.ErrorIs(t, f.builder.Delete(ctx, domain.RootID), ErrRootImmutable)
	assert.Equal(t, []string{"suspend", "resume"}, s.events)
}
