package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/bsync/internal/diag"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/store"
)

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestFeedForwardsEvents(t *testing.T) {
	feed := NewFeed(4)
	feed.OnHealth(domain.NewHealthChange(domain.HealthIdle, domain.HealthConnected))
	feed.OnComponents(domain.ComponentMap{"root": {ID: "root"}}, store.Report{})

	m := New("http://localhost:4005", feed)
	m = step(t, m, m.waitForEvent())
	m = step(t, m, m.waitForEvent())

	assert.Equal(t, domain.HealthConnected, m.health)
	assert.Equal(t, 1, m.components)
	assert.Contains(t, m.View(), "components: 1")
}

func TestFeedDropsWhenFull(t *testing.T) {
	feed := NewFeed(1)
	feed.OnLog(diag.LogEntry{Title: "a"})
	feed.OnLog(diag.LogEntry{Title: "b"})
	assert.EqualValues(t, 1, feed.Dropped())
}

func TestLogsNewestFirstAndBounded(t *testing.T) {
	m := New("srv", NewFeed(1))
	for i := 0; i < maxLogLines+3; i++ {
		m = step(t, m, logMsg{diag.LogEntry{Type: "info", Title: "t", Message: string(rune('a' + i))}})
	}
	require.Len(t, m.logs, maxLogLines)
	assert.Equal(t, string(rune('a'+maxLogLines+2)), m.logs[0].Message)

	m = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	assert.Empty(t, m.logs)
}

func TestSessionReplacedWarning(t *testing.T) {
	m := New("srv", NewFeed(1))
	m = step(t, m, sessionMsg{domain.NewSessionEstablished(1, "s2", "s1", domain.ModeEdit, 0)})
	view := m.View()
	assert.Contains(t, view, "s2 (edit, handshake 1)")
	assert.Contains(t, view, "session replaced, previous was s1")
}

func TestQuit(t *testing.T) {
	m := New("srv", NewFeed(1))
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Empty(t, next.View())

	m = step(t, New("srv", NewFeed(1)), closedMsg{})
	assert.True(t, m.quitting)
}
