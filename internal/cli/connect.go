package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/bsync/internal/diag"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/filter"
	"github.com/vburojevic/bsync/internal/output"
	"github.com/vburojevic/bsync/internal/store"
	"github.com/vburojevic/bsync/internal/tmux"
)

// ConnectCmd attaches to a backend session and streams what happens to it
type ConnectCmd struct {
	Pattern   string        `short:"p" help:"Regex pattern to filter log entries (title and message)"`
	Exclude   []string      `short:"x" help:"Regex pattern to exclude log entries (can be repeated)"`
	Where     []string      `short:"w" help:"Log entry filter, e.g. type>=warning or code=E42 (can be repeated)"`
	Mail      []string      `short:"m" help:"Mail types to print as they arrive (can be repeated)"`
	Debug     bool          `help:"Emit session_debug events for stream transitions"`
	Fresh     bool          `help:"Do not propose the remembered session id"`
	Duration  time.Duration `short:"d" help:"Stop after this long (0 runs until interrupted)"`
	Tmux      bool          `help:"Output to tmux session"`
	Session   string        `help:"Custom tmux session name (default: bsync-<host>)"`
	OutputDir string        `type:"path" help:"Write events to one NDJSON file per handshake in this directory"`
}

// RotationEvent announces a new per-handshake output file
type RotationEvent struct {
	Type          string `json:"type"` // "rotation"
	SchemaVersion int    `json:"schemaVersion"`
	Handshake     int    `json:"handshake"`
	Path          string `json:"path"`
}

// Run executes the connect command
func (c *ConnectCmd) Run(globals *Globals) error {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.Duration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.Duration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
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

	if err := validateFlags(globals, c.Tmux, c.OutputDir); err != nil {
		return err
	}
	pipeline, err := c.buildFilter(globals.Level)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_FILTER", err.Error())
	}

	runID := uuid.NewString()
	logger := newAgentLogger(globals, runID)
	defer logger.Sync()

	sink := &eventSink{
		globals: globals,
		writer:  globals.writer(globals.Stdout),
		filter:  pipeline,
		debug:   c.Debug,
	}

	if c.Tmux {
		sink.tmux = c.openTmux(globals)
	}
	if sink.tmux != nil {
		defer sink.tmux.Cleanup()
	}
	if c.OutputDir != "" {
		sink.rotation = newRotation(c.OutputDir, runID)
		defer sink.rotation.Close()
	}

	if !globals.Quiet {
		sink.writer.WriteReady(globals.Server, runID)
	}

	client, err := newClient(globals, sink, logger, runID, !c.Fresh)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_SERVER", err.Error(), "use an http(s) or ws(s) URL")
	}
	for _, mailType := range c.Mail {
		client.Router().Subscribe(mailType, sink.OnMail)
	}

	if err := client.Init(ctx); err != nil {
		client.Close()
		return sessionError(globals, err)
	}

	<-ctx.Done()
	if err := client.Close(); err != nil {
		logger.Debug("close failed", zap.Error(err))
	}
	return nil
}

// buildFilter folds --level into the where clauses
func (c *ConnectCmd) buildFilter(level string) (*filter.Pipeline, error) {
	var pattern *regexp.Regexp
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", err)
		}
		pattern = re
	}

	var excludes []*regexp.Regexp
	for _, x := range c.Exclude {
		re, err := regexp.Compile(x)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
		excludes = append(excludes, re)
	}

	clauses := append([]string(nil), c.Where...)
	if level != "" && level != "debug" {
		clauses = append(clauses, "type>="+level)
	}
	where, err := filter.NewWhereFilter(clauses)
	if err != nil {
		return nil, err
	}
	return filter.NewPipeline(pattern, excludes, where), nil
}

func (c *ConnectCmd) openTmux(globals *Globals) *tmux.Manager {
	if !tmux.IsTmuxAvailable() {
		return nil
	}
	name := c.Session
	if name == "" {
		name = tmux.GenerateSessionName(globals.Server)
	}
	mgr, err := tmux.NewManager(&tmux.Config{SessionName: name, Server: globals.Server, Detached: true})
	if err != nil {
		return nil
	}
	if err := mgr.GetOrCreateSession(); err != nil {
		return nil
	}
	mgr.ClearPaneWithBanner("Connected to " + globals.Server)

	if globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteTmux(name, mgr.AttachCommand())
	} else {
		fmt.Fprintf(globals.Stdout, "Tmux session: %s\n", name)
		fmt.Fprintf(globals.Stdout, "Attach with: %s\n", mgr.AttachCommand())
	}
	return mgr
}

// eventSink renders client events. It switches its writer when output
// rotates or goes to tmux.
type eventSink struct {
	globals  *Globals
	filter   *filter.Pipeline
	debug    bool
	tmux     *tmux.Manager
	rotation *rotation

	mu     sync.Mutex
	writer output.EventWriter
	pane   *tmux.Writer
}

func (s *eventSink) emit(fn func(w output.EventWriter) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.writer); err != nil {
		fmt.Fprintf(s.globals.Stderr, "Warning: %s\n", err)
	}
	if s.rotation != nil {
		s.rotation.Flush()
	}
	if s.pane != nil {
		s.pane.Flush()
	}
}

func (s *eventSink) OnSession(e *domain.SessionEstablished) {
	if s.rotation != nil {
		s.rotate(e.Handshake)
	}
	if s.tmux != nil {
		s.mu.Lock()
		if s.pane == nil {
			s.pane = tmux.NewWriter(s.tmux)
			s.writer = s.globals.writer(s.pane)
		}
		s.mu.Unlock()
		s.tmux.WriteSessionBanner(e)
	}
	s.emit(func(w output.EventWriter) error { return w.WriteSession(e) })
}

func (s *eventSink) rotate(handshake int) {
	buf, path, err := s.rotation.Open(handshake)
	if err != nil {
		fmt.Fprintf(s.globals.Stderr, "Warning: %s\n", err)
		return
	}
	s.mu.Lock()
	s.writer = output.NewNDJSONWriter(buf)
	s.mu.Unlock()

	if s.globals.Format == "ndjson" {
		output.NewNDJSONWriter(s.globals.Stdout).Write(&RotationEvent{
			Type:          "rotation",
			SchemaVersion: output.SchemaVersion,
			Handshake:     handshake,
			Path:          path,
		})
	} else if !s.globals.Quiet {
		fmt.Fprintf(s.globals.Stdout, "Writing handshake %d to %s\n", handshake, path)
	}
}

func (s *eventSink) OnHealth(e *domain.HealthChange) {
	if s.globals.Quiet {
		return
	}
	s.emit(func(w output.EventWriter) error { return w.WriteHealth(e) })
}

func (s *eventSink) OnComponents(components domain.ComponentMap, report store.Report) {
	s.emit(func(w output.EventWriter) error { return w.WriteComponents(components, report) })
}

func (s *eventSink) OnState(state map[string]any) {
	s.emit(func(w output.EventWriter) error { return w.WriteState(state) })
}

func (s *eventSink) OnLog(entry diag.LogEntry) {
	if !s.filter.Match(&entry) {
		return
	}
	s.emit(func(w output.EventWriter) error { return w.WriteLog(entry) })
}

func (s *eventSink) OnMail(item domain.MailItem) {
	s.emit(func(w output.EventWriter) error { return w.WriteMail(item) })
}

func (s *eventSink) OnDebug(e *domain.SessionDebug) {
	if !s.debug {
		return
	}
	s.emit(func(w output.EventWriter) error { return w.WriteDebug(e) })
}
