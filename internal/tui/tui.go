// Package tui is the interactive status view for a builder session.
package tui

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vburojevic/bsync/internal/diag"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/output"
	"github.com/vburojevic/bsync/internal/session"
	"github.com/vburojevic/bsync/internal/store"
)

const maxLogLines = 12

type (
	healthMsg     struct{ e *domain.HealthChange }
	sessionMsg    struct{ e *domain.SessionEstablished }
	componentsMsg struct {
		count  int
		report store.Report
	}
	stateMsg  struct{ keys int }
	logMsg    struct{ entry diag.LogEntry }
	closedMsg struct{}
)

// Feed is a session.Listener that forwards events to the view. Events
// that do not fit in the buffer are dropped and counted.
type Feed struct {
	session.NopListener
	events  chan tea.Msg
	dropped atomic.Int64
}

// NewFeed creates a Feed buffering up to size events
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 256
	}
	return &Feed{events: make(chan tea.Msg, size)}
}

func (f *Feed) push(msg tea.Msg) {
	select {
	case f.events <- msg:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit in the buffer
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

func (f *Feed) OnHealth(e *domain.HealthChange)        { f.push(healthMsg{e}) }
func (f *Feed) OnSession(e *domain.SessionEstablished) { f.push(sessionMsg{e}) }
func (f *Feed) OnComponents(c domain.ComponentMap, r store.Report) {
	f.push(componentsMsg{count: len(c), report: r})
}
func (f *Feed) OnState(state map[string]any) { f.push(stateMsg{keys: len(state)}) }
func (f *Feed) OnLog(entry diag.LogEntry)    { f.push(logMsg{entry}) }

// Close ends the event stream
func (f *Feed) Close() { f.push(closedMsg{}) }

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

// Model is the bubbletea model for the status view
type Model struct {
	server     string
	feed       *Feed
	spinner    spinner.Model
	health     domain.Health
	session    *domain.SessionEstablished
	components int
	report     store.Report
	stateKeys  int
	logs       []diag.LogEntry
	width      int
	quitting   bool
}

// New creates the view for server, reading events from feed
func New(server string, feed *Feed) Model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	return Model{
		server:  server,
		feed:    feed,
		spinner: s,
		health:  domain.HealthIdle,
	}
}

func (m Model) waitForEvent() tea.Msg {
	return <-m.feed.events
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.logs = nil
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case healthMsg:
		m.health = msg.e.To
	case sessionMsg:
		m.session = msg.e
	case componentsMsg:
		m.components = msg.count
		m.report = msg.report
	case stateMsg:
		m.stateKeys = msg.keys
	case logMsg:
		m.logs = append([]diag.LogEntry{msg.entry}, m.logs...)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[:maxLogLines]
		}
	case closedMsg:
		m.quitting = true
		return m, tea.Quit
	default:
		return m, nil
	}
	return m, m.waitForEvent
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	b.WriteString(titleStyle.Render("bsync") + " " + labelStyle.Render(m.server) + "\n\n")

	status := output.HealthLabel(m.health)
	if m.health != domain.HealthConnected {
		status = m.spinner.View() + " " + status
	}
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("health:    "), status)

	if m.session != nil {
		fmt.Fprintf(&b, "%s %s (%s, handshake %d)\n", labelStyle.Render("session:   "), m.session.SessionID, m.session.Mode, m.session.Handshake)
		if m.session.Alert != "" {
			b.WriteString(warnStyle.Render("  session replaced, previous was "+m.session.PreviousID) + "\n")
		}
	}
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("components:"), m.components)
	fmt.Fprintf(&b, "%s %d keys\n", labelStyle.Render("state:     "), m.stateKeys)
	if !m.report.OK() {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  tree issues: %d orphans, %d repaired", len(m.report.Orphans), len(m.report.Repaired))) + "\n")
	}

	b.WriteString("\n" + titleStyle.Render("Logs") + "\n")
	if len(m.logs) == 0 {
		b.WriteString(labelStyle.Render("  (none)") + "\n")
	}
	for _, e := range m.logs {
		line := fmt.Sprintf("  %-8s %s: %s", strings.ToUpper(e.Type), e.Title, e.Message)
		if e.Repeated > 0 {
			line += fmt.Sprintf(" (x%d)", e.Repeated+1)
		}
		if m.width > 0 && len(line) > m.width {
			line = line[:m.width]
		}
		b.WriteString(line + "\n")
	}
	if n := m.feed.Dropped(); n > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  %d events dropped", n)) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("q quit, c clear logs"))
	return b.String()
}
