package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/bsync/internal/builder"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/ledger"
	"github.com/vburojevic/bsync/internal/output"
	"github.com/vburojevic/bsync/internal/session"
)

// EditCmd applies a script of builder edits to a live edit-mode session.
// Each line of the script is one JSON operation, for example:
//
//	{"op":"create","type":"text","parent":"page","ref":"t1","content":{"text":"hi"}}
//	{"op":"set","id":"$t1","key":"text","value":"hello"}
//	{"op":"undo"}
type EditCmd struct {
	Script    string        `arg:"" optional:"" help:"Script file with one JSON operation per line (default: stdin)"`
	Fresh     bool          `help:"Do not propose the remembered session id"`
	Timeout   time.Duration `default:"10s" help:"Timeout for connecting and for each operation"`
	KeepGoing bool          `short:"k" help:"Continue after a failed operation"`
}

// EditOp is one scripted builder operation
type EditOp struct {
	Op       string            `json:"op"`
	ID       string            `json:"id,omitempty"`
	Ref      string            `json:"ref,omitempty"`
	Type     string            `json:"type,omitempty"`
	Parent   string            `json:"parent,omitempty"`
	Position *int              `json:"position,omitempty"`
	Content  map[string]string `json:"content,omitempty"`
	Key      string            `json:"key,omitempty"`
	Value    string            `json:"value,omitempty"`
	Event    string            `json:"event,omitempty"`
	Handler  string            `json:"handler,omitempty"`
}

// EditResult reports the outcome of one operation
type EditResult struct {
	Type          string       `json:"type"` // "edit"
	SchemaVersion int          `json:"schemaVersion"`
	Line          int          `json:"line"`
	Op            string       `json:"op"`
	ID            string       `json:"id,omitempty"`
	OK            bool         `json:"ok"`
	Error         string       `json:"error,omitempty"`
	Ledger        ledger.State `json:"ledger"`
}

// LedgerSummary closes an edit run
type LedgerSummary struct {
	Type          string `json:"type"` // "ledger"
	SchemaVersion int    `json:"schemaVersion"`
	ledger.State
	Entries int `json:"entries"`
	Offset  int `json:"offset"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

type scriptLine struct {
	n  int
	op EditOp
}

// Run executes the edit command
func (c *EditCmd) Run(globals *Globals) error {
	if err := validateFlags(globals, false, ""); err != nil {
		return err
	}
	script, err := c.readScript(globals)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_SCRIPT", err.Error())
	}

	runID := uuid.NewString()
	logger := newAgentLogger(globals, runID)
	defer logger.Sync()

	client, err := newClient(globals, session.NopListener{}, logger, runID, !c.Fresh)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_SERVER", err.Error())
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Debug("close failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	err = client.Init(ctx)
	cancel()
	if err != nil {
		return sessionError(globals, err)
	}
	if client.Mode() != domain.ModeEdit {
		return outputErrorCommon(globals, "NOT_EDIT_MODE",
			fmt.Sprintf("session %s is in %s mode", client.SessionID(), client.Mode()),
			"start the backend in edit mode")
	}

	l := ledger.New(ledger.Options{
		DebounceWindow: globals.Config.Ledger.DebounceWindow,
		Clock:          clock.New(),
		Logger:         logger,
	})
	b := builder.New(client.Store(), l, client, domain.DefaultRegistry(), logger)

	w := globals.writer(globals.Stdout)
	nd := globals.Format == "ndjson"
	refs := map[string]string{}
	summary := LedgerSummary{Type: "ledger", SchemaVersion: output.SchemaVersion}

	for _, line := range script {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		id, err := applyOp(ctx, b, line.op, refs)
		cancel()

		res := EditResult{
			Type:          "edit",
			SchemaVersion: output.SchemaVersion,
			Line:          line.n,
			Op:            line.op.Op,
			ID:            id,
			OK:            err == nil,
			Ledger:        l.State(),
		}
		if err != nil {
			res.Error = err.Error()
			summary.Failed++
		} else {
			summary.Applied++
		}
		if err := c.writeResult(globals, nd, &res); err != nil {
			return err
		}
		if err != nil && !c.KeepGoing {
			return outputErrorCommon(globals, "EDIT_FAILED",
				fmt.Sprintf("line %d (%s): %s", line.n, line.op.Op, res.Error),
				"use --keep-going to continue past failures")
		}
	}

	summary.State = l.State()
	summary.Entries = l.Len()
	summary.Offset = l.Offset()
	if nd {
		return json.NewEncoder(globals.Stdout).Encode(&summary)
	}
	if err := w.WriteComponents(client.Store().All(), client.Store().Validate()); err != nil {
		return err
	}
	_, err = fmt.Fprintf(globals.Stdout, "Applied %d, failed %d. Undo: %s. Redo: %s.\n",
		summary.Applied, summary.Failed, orNone(summary.UndoDescription), orNone(summary.RedoDescription))
	return err
}

func (c *EditCmd) writeResult(globals *Globals, nd bool, res *EditResult) error {
	if nd {
		return json.NewEncoder(globals.Stdout).Encode(res)
	}
	status := "ok"
	if !res.OK {
		status = "failed: " + res.Error
	}
	_, err := fmt.Fprintf(globals.Stdout, "%d %s %s %s\n", res.Line, res.Op, res.ID, status)
	return err
}

func (c *EditCmd) readScript(globals *Globals) ([]scriptLine, error) {
	var r io.Reader = globals.Stdin
	if c.Script != "" && c.Script != "-" {
		f, err := os.Open(c.Script)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	if r == nil {
		return nil, errors.New("no script given")
	}
	return parseScript(r)
}

// parseScript reads one operation per line. Blank lines and lines
// starting with # are skipped.
func parseScript(r io.Reader) ([]scriptLine, error) {
	var lines []scriptLine
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var op EditOp
		if err := json.Unmarshal([]byte(text), &op); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if !knownOps[op.Op] {
			return nil, fmt.Errorf("line %d: unknown op %q", n, op.Op)
		}
		lines = append(lines, scriptLine{n: n, op: op})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

var knownOps = map[string]bool{
	"create": true, "set": true, "handler": true, "move": true,
	"delete": true, "undo": true, "redo": true,
}

// applyOp runs op against b and returns the id it touched. Ids starting
// with $ name the ref of an earlier create.
func applyOp(ctx context.Context, b *builder.Builder, op EditOp, refs map[string]string) (string, error) {
	resolve := func(id string) (string, error) {
		if !strings.HasPrefix(id, "$") {
			return id, nil
		}
		mapped, ok := refs[id[1:]]
		if !ok {
			return "", fmt.Errorf("unknown ref %s", id)
		}
		return mapped, nil
	}
	position := -1
	if op.Position != nil {
		position = *op.Position
	}

	switch op.Op {
	case "create":
		parent, err := resolve(op.Parent)
		if err != nil {
			return "", err
		}
		id, err := b.Create(ctx, op.Type, parent, position, op.Content)
		if id != "" && op.Ref != "" {
			refs[op.Ref] = id
		}
		return id, err
	case "undo", "redo":
		do := b.Undo
		if op.Op == "redo" {
			do = b.Redo
		}
		ok, err := do(ctx)
		if err == nil && !ok {
			err = fmt.Errorf("nothing to %s", op.Op)
		}
		return "", err
	}

	id, err := resolve(op.ID)
	if err != nil {
		return "", err
	}
	switch op.Op {
	case "set":
		return id, b.SetContent(ctx, id, op.Key, op.Value)
	case "handler":
		return id, b.SetHandler(ctx, id, op.Event, op.Handler)
	case "move":
		parent, err := resolve(op.Parent)
		if err != nil {
			return id, err
		}
		return id, b.Move(ctx, id, parent, position)
	case "delete":
		return id, b.Delete(ctx, id)
	}
	return id, fmt.Errorf("unknown op %q", op.Op)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
