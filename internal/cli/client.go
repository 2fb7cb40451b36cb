package cli

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/bsync/internal/diag"
	"github.com/vburojevic/bsync/internal/session"
)

// newSessionStore remembers session ids per server under the configured
// state dir. With resume off nothing is remembered.
func newSessionStore(globals *Globals, logger *zap.Logger, resume bool) session.SessionStore {
	if !resume {
		return &session.MemorySessionStore{}
	}
	path, err := session.DefaultStatePath(globals.Config.Session.StateDir, globals.Server)
	if err != nil {
		logger.Debug("session state unavailable", zap.Error(err))
		return &session.MemorySessionStore{}
	}
	return &session.FileSessionStore{Path: path, Server: globals.Server}
}

// newClient wires a session client for globals.Server
func newClient(globals *Globals, listener session.Listener, logger *zap.Logger, runID string, resume bool) (*session.Client, error) {
	dialer, err := session.NewWebsocketDialer(globals.Server)
	if err != nil {
		return nil, err
	}
	cfg := globals.Config
	clk := clock.New()
	return session.New(session.Options{
		Handshaker:        &session.HTTPHandshaker{BaseURL: globals.Server},
		Dialer:            dialer,
		Sessions:          newSessionStore(globals, logger, resume),
		Book:              diag.NewBook(cfg.Logs.Capacity, clk),
		Listener:          listener,
		Clock:             clk,
		Logger:            logger,
		ReconnectDelay:    cfg.Session.ReconnectDelay,
		KeepAliveInterval: cfg.Session.KeepAliveInterval,
		WatchdogInterval:  cfg.Session.WatchdogInterval,
		RunID:             runID,
	}), nil
}
