package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/vburojevic/bsync/internal/tui"
)

// UICmd launches an interactive status view for a backend session
type UICmd struct {
	Fresh      bool `help:"Do not propose the remembered session id"`
	BufferSize int  `default:"256" help:"Number of pending events buffered for the view"`
}

// Run executes the UI command
func (c *UICmd) Run(globals *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	runID := uuid.NewString()
	logger := newAgentLogger(globals, runID)
	defer logger.Sync()

	feed := tui.NewFeed(c.BufferSize)
	client, err := newClient(globals, feed, logger, runID, !c.Fresh)
	if err != nil {
		return fmt.Errorf("invalid server: %w", err)
	}
	defer client.Close()

	p := tea.NewProgram(tui.New(globals.Server, feed), tea.WithAltScreen(), tea.WithContext(ctx))

	initErr := make(chan error, 1)
	go func() {
		if err := client.Init(ctx); err != nil {
			initErr <- err
			feed.Close()
		}
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	select {
	case err := <-initErr:
		return sessionError(globals, err)
	default:
		return nil
	}
}
