package mail

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/bsync/internal/domain"
)

func item(mailType, payload string) domain.MailItem {
	return domain.MailItem{Type: mailType, Payload: json.RawMessage(payload)}
}

func TestDeliverToSubscriber(t *testing.T) {
	r := NewRouter(nil)
	var got []domain.MailItem
	r.Subscribe("toast", func(i domain.MailItem) { got = append(got, i) })

	r.Deliver([]domain.MailItem{item("toast", `"hi"`), item("toast", `"there"`)})

	require.Len(t, got, 2)
	assert.JSONEq(t, `"hi"`, string(got[0].Payload))
	assert.JSONEq(t, `"there"`, string(got[1].Payload))
	assert.Empty(t, r.Pending())
}

func TestBufferedUntilSubscribed(t *testing.T) {
	r := NewRouter(nil)
	r.Deliver([]domain.MailItem{item("openUrl", `"https://example.com"`), item("toast", `1`)})
	require.Len(t, r.Pending(), 2)

	var got []domain.MailItem
	r.Subscribe("openUrl", func(i domain.MailItem) { got = append(got, i) })

	require.Len(t, got, 1)
	assert.Equal(t, "openUrl", got[0].Type)
	require.Len(t, r.Pending(), 1)
	assert.Equal(t, "toast", r.Pending()[0].Type)

	// Exactly once: later deliveries do not replay it
	r.Deliver(nil)
	r.Deliver([]domain.MailItem{item("toast", `2`)})
	assert.Len(t, got, 1)
}

func TestEveryMatchingSubscriberReceives(t *testing.T) {
	r := NewRouter(nil)
	var a, b int
	r.Subscribe("toast", func(domain.MailItem) { a++ })
	r.Subscribe("toast", func(domain.MailItem) { b++ })

	r.Deliver([]domain.MailItem{item("toast", `null`)})

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestUnsubscribe(t *testing.T) {
	r := NewRouter(nil)
	count := 0
	unsubscribe := r.Subscribe("toast", func(domain.MailItem) { count++ })
	unsubscribe()

	r.Deliver([]domain.MailItem{item("toast", `null`)})
	assert.Zero(t, count)
	assert.Len(t, r.Pending(), 1)
}

func TestHandlerMaySubscribe(t *testing.T) {
	r := NewRouter(nil)
	var order []string
	r.Deliver([]domain.MailItem{item("second", `null`)})

	r.Subscribe("first", func(domain.MailItem) {
		order = append(order, "first")
		r.Subscribe("second", func(domain.MailItem) { order = append(order, "second") })
	})
	r.Deliver([]domain.MailItem{item("first", `null`)})

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Empty(t, r.Pending())
}
