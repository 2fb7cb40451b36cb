package tmux

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vburojevic/bsync/internal/domain"
)

const bannerRule = "═══════════════════════════════════════════════════════════"

// ClearPane resets the pane and drops its scrollback
func (m *Manager) ClearPane() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pane == "" {
		return ErrNoPaneAvailable
	}
	if _, err := m.tmux.Command("send-keys", "-t", m.pane, "-R"); err != nil {
		return fmt.Errorf("failed to reset terminal: %w", err)
	}
	if _, err := m.tmux.Command("clear-history", "-t", m.pane); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	if _, err := m.tmux.Command("send-keys", "-t", m.pane, "clear", "Enter"); err != nil {
		return fmt.Errorf("failed to clear screen: %w", err)
	}
	return nil
}

// ClearPaneWithBanner clears the pane and prints a header for server
func (m *Manager) ClearPaneWithBanner(message string) error {
	if err := m.ClearPane(); err != nil {
		return err
	}
	return m.WriteLines([]string{
		bannerRule,
		"  bsync - " + message,
		fmt.Sprintf("  tmux: %s | Started: %s", m.config.SessionName, time.Now().Format("2006-01-02 15:04:05")),
		bannerRule,
	})
}

// WriteSessionBanner marks a handshake in the pane. A replaced session is
// called out so the reader knows earlier state is gone.
func (m *Manager) WriteSessionBanner(e *domain.SessionEstablished) error {
	detail := fmt.Sprintf("mode %s, %d components", e.Mode, e.Components)
	if e.Alert != "" {
		detail += fmt.Sprintf(" | %s (was %s)", e.Alert, e.PreviousID)
	}
	return m.WriteLines([]string{
		"",
		bannerRule,
		fmt.Sprintf("  HANDSHAKE %d: session %s", e.Handshake, e.SessionID),
		"  " + detail,
		bannerRule,
	})
}

// WriteLine echoes a single line into the pane
func (m *Manager) WriteLine(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pane == "" {
		return ErrNoPaneAvailable
	}
	_, err := m.tmux.Command("send-keys", "-t", m.pane, fmt.Sprintf("echo '%s'", escapeTmuxString(line)), "Enter")
	return err
}

// WriteLines writes lines in order, stopping at the first failure
func (m *Manager) WriteLines(lines []string) error {
	for _, line := range lines {
		if err := m.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}

// escapeTmuxString quotes s for a single-quoted shell echo
func escapeTmuxString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "'", `'"'"'`)
}

// Writer adapts a Manager to io.Writer, one pane line per output line
type Writer struct {
	manager *Manager
	pending strings.Builder
}

// NewWriter creates a Writer for manager
func NewWriter(manager *Manager) *Writer {
	return &Writer{manager: manager}
}

// Write sends complete lines and buffers any trailing partial line
func (w *Writer) Write(p []byte) (int, error) {
	w.pending.Write(p)
	content := w.pending.String()
	cut := strings.LastIndexByte(content, '\n')
	if cut < 0 {
		return len(p), nil
	}
	w.pending.Reset()
	w.pending.WriteString(content[cut+1:])

	for _, line := range strings.Split(content[:cut], "\n") {
		if line == "" {
			continue
		}
		if err := w.manager.WriteLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes any buffered partial line
func (w *Writer) Flush() error {
	if w.pending.Len() == 0 {
		return nil
	}
	line := w.pending.String()
	w.pending.Reset()
	return w.manager.WriteLine(line)
}

var _ io.Writer = (*Writer)(nil)
