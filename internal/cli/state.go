package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/bsync/internal/protocol"
	"github.com/vburojevic/bsync/internal/session"
	"github.com/vburojevic/bsync/internal/store"
)

// StateCmd handshakes once and prints the application state, or the value
// at an accessor path
type StateCmd struct {
	Path       string        `arg:"" optional:"" help:"Accessor path into the state, e.g. user.name or items.0"`
	Components bool          `short:"c" help:"Also print the component tree"`
	Fresh      bool          `help:"Do not propose the remembered session id"`
	Timeout    time.Duration `default:"10s" help:"Handshake timeout"`
}

// StateValue is the NDJSON output for a single looked-up path
type StateValue struct {
	Type          string `json:"type"` // "state_value"
	SchemaVersion int    `json:"schemaVersion"`
	Path          string `json:"path"`
	Found         bool   `json:"found"`
	Value         any    `json:"value,omitempty"`
}

// Run executes the state command
func (c *StateCmd) Run(globals *Globals) error {
	if err := validateFlags(globals, false, ""); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	logger := newAgentLogger(globals, uuid.NewString())
	defer logger.Sync()

	sessions := newSessionStore(globals, logger, !c.Fresh)
	proposed, _ := sessions.Load()

	h := &session.HTTPHandshaker{BaseURL: globals.Server, Client: &http.Client{Timeout: c.Timeout}}
	resp, err := h.Handshake(ctx, protocol.HandshakeRequest{ProposedSessionID: proposed})
	if err != nil {
		return sessionError(globals, err)
	}
	if err := sessions.Save(resp.SessionID); err != nil {
		logger.Debug("save session id failed", zap.Error(err))
	}

	w := globals.writer(globals.Stdout)
	if c.Components {
		s := store.New()
		report := s.Replace(resp.Components)
		if err := w.WriteComponents(s.All(), report); err != nil {
			return err
		}
	}

	state := resp.UserState
	if state == nil {
		state = map[string]any{}
	}
	if c.Path == "" {
		return w.WriteState(state)
	}

	value, found := session.Lookup(state, c.Path)
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(&StateValue{
			Type:          "state_value",
			SchemaVersion: 1,
			Path:          c.Path,
			Found:         found,
			Value:         value,
		})
	}
	if !found {
		return outputErrorCommon(globals, "PATH_NOT_FOUND", fmt.Sprintf("no value at %s", c.Path))
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(globals.Stdout, "%s = %s\n", c.Path, pretty)
	return err
}
