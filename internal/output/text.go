package output

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/vburojevic/bsync/internal/diag"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/store"
)

var (
	healthStyles = map[domain.Health]lipgloss.Style{
		domain.HealthConnected: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		domain.HealthSuspended: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		domain.HealthOffline:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		domain.HealthIdle:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
	severityStyles = map[string]lipgloss.Style{
		"error":    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		"critical": lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		"warning":  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
)

// HealthLabel renders h in its indicator colour
func HealthLabel(h domain.Health) string {
	if style, ok := healthStyles[h]; ok {
		return style.Render(string(h))
	}
	return string(h)
}

// ResolveFormat turns "auto" into "text" on a terminal and "ndjson"
// otherwise. Other values pass through.
func ResolveFormat(format string, out io.Writer) string {
	if format != "auto" {
		return format
	}
	if f, ok := out.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return "text"
	}
	return "ndjson"
}

// TextWriter renders events for a human reader
type TextWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextWriter creates a text writer over w
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

func (t *TextWriter) printf(format string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, format, args...)
	return err
}

func (t *TextWriter) WriteReady(server, runID string) error {
	return t.printf("Connecting to %s (run %s)\n", server, runID)
}

func (t *TextWriter) WriteSession(e *domain.SessionEstablished) error {
	if e.Alert != "" {
		return t.printf("Session %s established [%s, %d components] (replaced %s)\n",
			e.SessionID, e.Mode, e.Components, e.PreviousID)
	}
	return t.printf("Session %s established [%s, %d components]\n", e.SessionID, e.Mode, e.Components)
}

func (t *TextWriter) WriteHealth(e *domain.HealthChange) error {
	return t.printf("Health: %s -> %s\n", HealthLabel(e.From), HealthLabel(e.To))
}

// WriteComponents prints the tree as a table in depth-first order
func (t *TextWriter) WriteComponents(components domain.ComponentMap, report store.Report) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	table := tablewriter.NewWriter(t.w)
	table.Header("ID", "Type", "Parent", "Position", "Managed")
	for _, row := range TreeRows(components) {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	if report.MissingRoot {
		fmt.Fprintln(t.w, "Warning: tree has no root component")
	}
	if len(report.Orphans) > 0 {
		fmt.Fprintf(t.w, "Warning: %d orphaned components: %s\n", len(report.Orphans), strings.Join(report.Orphans, ", "))
	}
	if len(report.Repaired) > 0 {
		fmt.Fprintf(t.w, "Repaired positions under: %s\n", strings.Join(report.Repaired, ", "))
	}
	return nil
}

// TreeRows flattens components depth-first from the root, siblings by
// position. Components unreachable from the root follow, sorted by id.
func TreeRows(components domain.ComponentMap) [][]string {
	children := lo.GroupBy(lo.Values(components), func(c *domain.Component) string { return c.ParentID })
	for _, siblings := range children {
		slices.SortFunc(siblings, func(a, b *domain.Component) int {
			if a.Position != b.Position {
				return a.Position - b.Position
			}
			return strings.Compare(a.ID, b.ID)
		})
	}

	rows := make([][]string, 0, len(components))
	seen := make(map[string]bool, len(components))
	var walk func(c *domain.Component, depth int)
	walk = func(c *domain.Component, depth int) {
		if seen[c.ID] {
			return
		}
		seen[c.ID] = true
		rows = append(rows, componentRow(c, depth))
		for _, child := range children[c.ID] {
			walk(child, depth+1)
		}
	}
	if root, ok := components[domain.RootID]; ok {
		walk(root, 0)
	}

	rest := lo.Filter(lo.Keys(components), func(id string, _ int) bool { return !seen[id] })
	slices.Sort(rest)
	for _, id := range rest {
		if !seen[id] {
			walk(components[id], 0)
		}
	}
	return rows
}

func componentRow(c *domain.Component, depth int) []string {
	position := strconv.Itoa(c.Position)
	if c.IsPositionless() {
		position = "-"
	}
	managed := lo.Ternary(c.IsCodeManaged, "code", "builder")
	return []string{strings.Repeat("  ", depth) + c.ID, c.Type, c.ParentID, position, managed}
}

func (t *TextWriter) WriteState(state map[string]any) error {
	keys := lo.Keys(state)
	slices.Sort(keys)
	t.mu.Lock()
	defer t.mu.Unlock()
	table := tablewriter.NewWriter(t.w)
	table.Header("Key", "Value")
	for _, k := range keys {
		if err := table.Append([]string{k, fmt.Sprint(state[k])}); err != nil {
			return err
		}
	}
	return table.Render()
}

func (t *TextWriter) WriteLog(entry diag.LogEntry) error {
	label := strings.ToUpper(entry.Type)
	if style, ok := severityStyles[entry.Type]; ok {
		label = style.Render(label)
	}
	repeated := ""
	if entry.Repeated > 0 {
		repeated = fmt.Sprintf(" (x%d)", entry.Repeated+1)
	}
	ts := entry.TimestampReceived
	if ts.IsZero() {
		ts = time.Now()
	}
	return t.printf("%s [%s] %s: %s%s\n", ts.Format("15:04:05.000"), label, entry.Title, entry.Message, repeated)
}

func (t *TextWriter) WriteMail(item domain.MailItem) error {
	if len(item.Payload) == 0 {
		return t.printf("mail: %s\n", item.Type)
	}
	return t.printf("mail: %s %s\n", item.Type, item.Payload)
}

func (t *TextWriter) WriteDebug(e *domain.SessionDebug) error {
	if e.CloseCode != 0 {
		return t.printf("debug: %s (generation %d, close %d)\n", e.Reason, e.Generation, e.CloseCode)
	}
	return t.printf("debug: %s (generation %d)\n", e.Reason, e.Generation)
}

func (t *TextWriter) WriteError(code, message string, hint ...string) error {
	if len(hint) > 0 && hint[0] != "" {
		return t.printf("Error [%s]: %s (hint: %s)\n", code, message, hint[0])
	}
	return t.printf("Error [%s]: %s\n", code, message)
}

var _ EventWriter = (*TextWriter)(nil)
