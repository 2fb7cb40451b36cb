package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/vburojevic/bsync/internal/output"
	"github.com/vburojevic/bsync/internal/session"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so agents always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if len(hint) > 0 && hint[0] != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", hint[0])
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}

// sessionError reports a session failure with a stable code and hint
func sessionError(globals *Globals, err error) error {
	code, hint := classify(err)
	return outputErrorCommon(globals, code, err.Error(), hint)
}

func classify(err error) (code, hint string) {
	var hs *session.HandshakeError
	switch {
	case errors.As(err, &hs):
		return "HANDSHAKE_REJECTED", fmt.Sprintf("backend answered %d; check --server and that the app is running", hs.StatusCode)
	case errors.Is(err, session.ErrHandshakeRejected):
		return "HANDSHAKE_REJECTED", "check --server and that the app is running"
	case errors.Is(err, session.ErrTransportNotReady):
		return "NOT_CONNECTED", "the stream is down; retry once health is connected"
	case errors.Is(err, session.ErrConnectionLost):
		return "CONNECTION_LOST", "the stream closed before a reply arrived"
	case errors.Is(err, session.ErrClosed):
		return "CLIENT_CLOSED", ""
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT", "increase --timeout"
	default:
		return "SESSION_FAILED", ""
	}
}
