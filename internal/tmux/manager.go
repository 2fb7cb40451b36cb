// Package tmux mirrors session output into a detached tmux pane.
package tmux

import (
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"sync"

	"github.com/GianlucaP106/gotmux/gotmux"
)

// ErrNoPaneAvailable is returned when writing before a session exists
var ErrNoPaneAvailable = errors.New("no tmux pane available")

// Config describes the tmux session to use
type Config struct {
	SessionName string
	Server      string
	Detached    bool
}

// commander runs raw tmux commands. *gotmux.Tmux satisfies it.
type commander interface {
	Command(args ...string) (string, error)
}

// Manager owns one tmux session and its first pane
type Manager struct {
	mu     sync.Mutex
	tmux   commander
	config *Config
	pane   string // target of the output pane, "" until a session exists
}

// IsTmuxAvailable reports whether a tmux binary is on PATH
func IsTmuxAvailable() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// GenerateSessionName derives a session name from the backend URL
func GenerateSessionName(server string) string {
	name := server
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		name = u.Host
	}
	name = strings.NewReplacer(":", "-", ".", "-", "/", "-", " ", "-").Replace(name)
	return "bsync-" + strings.Trim(name, "-")
}

// NewManager connects to the default tmux server
func NewManager(cfg *Config) (*Manager, error) {
	t, err := gotmux.DefaultTmux()
	if err != nil {
		return nil, fmt.Errorf("tmux unavailable: %w", err)
	}
	return newManager(t, cfg), nil
}

func newManager(c commander, cfg *Config) *Manager {
	return &Manager{tmux: c, config: cfg}
}

// GetOrCreateSession attaches to the configured session, creating it
// when it does not exist yet
func (m *Manager) GetOrCreateSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := m.config.SessionName
	if _, err := m.tmux.Command("has-session", "-t", name); err != nil {
		args := []string{"new-session", "-s", name}
		if m.config.Detached {
			args = append(args, "-d")
		}
		if _, err := m.tmux.Command(args...); err != nil {
			return fmt.Errorf("failed to create tmux session %s: %w", name, err)
		}
	}
	m.pane = name + ":0.0"
	return nil
}

// SessionName returns the configured session name
func (m *Manager) SessionName() string {
	return m.config.SessionName
}

// AttachCommand is the shell command a user runs to watch the pane
func (m *Manager) AttachCommand() string {
	return "tmux attach -t " + m.config.SessionName
}

// Cleanup forgets the pane. The detached session stays alive so the
// output can still be read after bsync exits.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pane = ""
}
