package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/bsync/internal/builder"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/ledger"
	"github.com/vburojevic/bsync/internal/protocol"
)

func rootOnlyTree() map[string]any {
	return map[string]any{"components": map[string]any{
		"root": map[string]any{"id": "root", "type": "root", "content": map[string]any{}},
	}}
}

func TestStaleTreeDuringEditIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.init(t)
	b := builder.New(h.client.Store(), ledger.New(ledger.Options{Clock: h.clock}), h.client, nil, nil)

	type created struct {
		id  string
		err error
	}
	done := make(chan created, 1)
	go func() {
		id, err := b.Create(context.Background(), "text", "root", -1, nil)
		done <- created{id, err}
	}()

	require.Eventually(t, func() bool { return len(conn.sent(protocol.TypeComponentUpdate)) == 1 }, waitFor, tick)
	assert.Equal(t, domain.HealthSuspended, h.client.Health())

	// a tree the backend produced before it saw the update, then the ack
	update := conn.sent(protocol.TypeComponentUpdate)[0]
	conn.push(protocol.TypeEventResponse, 0, rootOnlyTree())
	conn.push(protocol.TypeEventResponse, update.TrackingID, map[string]any{})

	var res created
	select {
	case res = <-done:
	case <-time.After(waitFor):
		t.Fatal("create never synced")
	}
	require.NoError(t, res.err)
	assert.True(t, h.client.Store().Has(res.id), "local edit survives a stale tree")
	assert.Equal(t, domain.HealthConnected, h.client.Health())
}

func TestTreeAfterUpdateAckIsKept(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.init(t)

	h.client.Suspend()
	h.client.Store().Put(&domain.Component{ID: "local", ParentID: "root", Type: "text", Content: map[string]string{}})

	done := make(chan error, 1)
	go func() { done <- h.client.SendComponentUpdate(context.Background()) }()
	require.Eventually(t, func() bool { return len(conn.sent(protocol.TypeComponentUpdate)) == 1 }, waitFor, tick)

	// the acknowledgement itself carries the backend's newer tree
	update := conn.sent(protocol.TypeComponentUpdate)[0]
	conn.push(protocol.TypeEventResponse, update.TrackingID, rootOnlyTree())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("update never acknowledged")
	}

	h.client.Resume()
	assert.False(t, h.client.Store().Has("local"), "tree sent with the ack is applied")
	assert.True(t, h.client.Store().Has("root"))
}

func TestReopenFailsOldCallsBeforeAcceptingSends(t *testing.T) {
	h := newHarness(t, nil)
	first := h.init(t)

	var mu sync.Mutex
	var readyAtFailure *bool
	var failure error
	h.client.tracker.Send(context.Background(), protocol.TypeEvent, nil, func(r Result) {
		ready := streamTransport{h.client}.Ready()
		mu.Lock()
		defer mu.Unlock()
		readyAtFailure = &ready
		failure = r.Err
	}, false)

	require.NoError(t, h.client.openStream(context.Background()))

	mu.Lock()
	require.NotNil(t, readyAtFailure)
	assert.False(t, *readyAtFailure, "new stream must not accept sends while old calls fail")
	assert.ErrorIs(t, failure, ErrConnectionLost)
	mu.Unlock()

	assert.True(t, first.isClosed(), "replaced stream is closed")
	second := h.dialer.last()
	require.NotSame(t, first, second)
	assert.Len(t, second.sent(protocol.TypeStreamInit), 1)
	assert.Equal(t, domain.HealthConnected, h.client.Health())

	// the old stream's close is ignored
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.listener.count("reconnect_scheduled"))
}
