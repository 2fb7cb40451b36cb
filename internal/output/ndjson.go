// Package output renders session events as NDJSON for agents or as
// plain text for people.
package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/vburojevic/bsync/internal/diag"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/store"
)

// SchemaVersion is stamped on every NDJSON event
const SchemaVersion = 1

// EventWriter is implemented by NDJSONWriter and TextWriter
type EventWriter interface {
	WriteReady(server, runID string) error
	WriteSession(e *domain.SessionEstablished) error
	WriteHealth(e *domain.HealthChange) error
	WriteComponents(components domain.ComponentMap, report store.Report) error
	WriteState(state map[string]any) error
	WriteLog(entry diag.LogEntry) error
	WriteMail(item domain.MailItem) error
	WriteDebug(e *domain.SessionDebug) error
	WriteError(code, message string, hint ...string) error
}

// ReadyEvent is the first line of a connect stream
type ReadyEvent struct {
	Type          string `json:"type"` // "ready"
	SchemaVersion int    `json:"schemaVersion"`
	Timestamp     string `json:"timestamp"`
	Server        string `json:"server"`
	RunID         string `json:"run_id,omitempty"`
}

// ComponentsEvent summarises a tree replacement
type ComponentsEvent struct {
	Type           string       `json:"type"` // "components"
	SchemaVersion  int          `json:"schemaVersion"`
	Count          int          `json:"count"`
	BuilderManaged int          `json:"builder_managed"`
	CodeManaged    int          `json:"code_managed"`
	Report         store.Report `json:"report"`
	Timestamp      string       `json:"timestamp"`
}

// StateEvent carries a full application state snapshot
type StateEvent struct {
	Type          string         `json:"type"` // "state"
	SchemaVersion int            `json:"schemaVersion"`
	State         map[string]any `json:"state"`
	Timestamp     string         `json:"timestamp"`
}

// LogEvent wraps a diagnostic entry
type LogEvent struct {
	Type          string `json:"type"` // "log"
	SchemaVersion int    `json:"schemaVersion"`
	diag.LogEntry
	Severity string `json:"severity"`
}

// MailEvent carries a subscribed mail item
type MailEvent struct {
	Type          string          `json:"type"` // "mail"
	SchemaVersion int             `json:"schemaVersion"`
	MailType      string          `json:"mail_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

// ErrorEvent is emitted for command failures
type ErrorEvent struct {
	Type          string `json:"type"` // "error"
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

// TmuxEvent tells an agent where the pane output went
type TmuxEvent struct {
	Type          string `json:"type"` // "tmux"
	SchemaVersion int    `json:"schemaVersion"`
	Session       string `json:"session"`
	Attach        string `json:"attach"`
}

// NDJSONWriter writes one JSON object per line. Safe for concurrent use.
type NDJSONWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	now     func() time.Time
}

// NewNDJSONWriter creates a writer over w
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{encoder: json.NewEncoder(w), now: time.Now}
}

// Write encodes v as a single line
func (w *NDJSONWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(v)
}

func (w *NDJSONWriter) timestamp() string {
	return w.now().UTC().Format(time.RFC3339)
}

func (w *NDJSONWriter) WriteReady(server, runID string) error {
	return w.Write(&ReadyEvent{
		Type:          "ready",
		SchemaVersion: SchemaVersion,
		Timestamp:     w.timestamp(),
		Server:        server,
		RunID:         runID,
	})
}

func (w *NDJSONWriter) WriteSession(e *domain.SessionEstablished) error {
	return w.Write(e)
}

func (w *NDJSONWriter) WriteHealth(e *domain.HealthChange) error {
	return w.Write(e)
}

func (w *NDJSONWriter) WriteComponents(components domain.ComponentMap, report store.Report) error {
	code := lo.CountBy(lo.Values(components), func(c *domain.Component) bool { return c.IsCodeManaged })
	return w.Write(&ComponentsEvent{
		Type:           "components",
		SchemaVersion:  SchemaVersion,
		Count:          len(components),
		BuilderManaged: len(components) - code,
		CodeManaged:    code,
		Report:         report,
		Timestamp:      w.timestamp(),
	})
}

func (w *NDJSONWriter) WriteState(state map[string]any) error {
	if state == nil {
		state = map[string]any{}
	}
	return w.Write(&StateEvent{
		Type:          "state",
		SchemaVersion: SchemaVersion,
		State:         state,
		Timestamp:     w.timestamp(),
	})
}

func (w *NDJSONWriter) WriteLog(entry diag.LogEntry) error {
	return w.Write(&LogEvent{
		Type:          "log",
		SchemaVersion: SchemaVersion,
		LogEntry:      entry,
		Severity:      entry.Type,
	})
}

func (w *NDJSONWriter) WriteMail(item domain.MailItem) error {
	return w.Write(&MailEvent{
		Type:          "mail",
		SchemaVersion: SchemaVersion,
		MailType:      item.Type,
		Payload:       item.Payload,
		Timestamp:     w.timestamp(),
	})
}

func (w *NDJSONWriter) WriteDebug(e *domain.SessionDebug) error {
	return w.Write(e)
}

// WriteError writes an error event. Only the first hint is used.
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	e := &ErrorEvent{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	if len(hint) > 0 {
		e.Hint = hint[0]
	}
	return w.Write(e)
}

// WriteTmux announces the tmux session receiving output
func (w *NDJSONWriter) WriteTmux(session, attach string) error {
	return w.Write(&TmuxEvent{
		Type:          "tmux",
		SchemaVersion: SchemaVersion,
		Session:       session,
		Attach:        attach,
	})
}

var _ EventWriter = (*NDJSONWriter)(nil)
