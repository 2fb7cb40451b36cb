// Package cli implements the bsync commands.
package cli

import (
	"io"
	"os"

	"github.com/vburojevic/bsync/internal/config"
	"github.com/vburojevic/bsync/internal/output"
)

// Set at build time via -ldflags
var (
	Version = "dev"
	Commit  = "none"
)

// CLI is the kong command model
type CLI struct {
	Format  string `short:"f" default:"${config_format}" enum:"ndjson,text,auto" help:"Output format (ndjson, text, auto)"`
	Level   string `short:"l" default:"${config_level}" enum:"debug,info,warning,error,critical" help:"Minimum log entry severity to print"`
	Server  string `short:"S" default:"${config_server}" help:"Backend base URL"`
	Quiet   bool   `short:"q" help:"Suppress informational output (ndjson only)"`
	Verbose bool   `short:"v" help:"Write debug logs to stderr"`
	Config  string `type:"path" help:"Path to a config file"`

	Connect ConnectCmd `cmd:"" help:"Attach to a backend session and stream its events"`
	UI      UICmd      `cmd:"" name:"ui" help:"Interactive status view of a backend session"`
	State   StateCmd   `cmd:"" help:"Handshake once and print the application state"`
	Edit    EditCmd    `cmd:"" help:"Apply a script of component edits to an edit-mode session"`
	Conf    ConfigCmd  `cmd:"" name:"config" help:"Show or generate configuration"`
	Schema  SchemaCmd  `cmd:"" help:"Print JSON Schema for NDJSON output types"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// Globals is passed to every command's Run
type Globals struct {
	Format  string
	Level   string
	Server  string
	Quiet   bool
	Verbose bool
	Config  *config.Config
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewGlobalsWithConfig merges parsed flags over cfg. A --config path
// replaces cfg when it can be loaded.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	if c.Config != "" {
		if fromFile, err := config.LoadFromFile(c.Config); err == nil {
			cfg = fromFile
		}
	}
	if cfg == nil {
		cfg = config.Default()
	}

	g := &Globals{
		Format:  c.Format,
		Level:   c.Level,
		Server:  c.Server,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Config:  cfg,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	if g.Format == "" {
		g.Format = cfg.Format
	}
	if g.Level == "" {
		g.Level = cfg.Level
	}
	if g.Server == "" {
		g.Server = cfg.Server.URL
	}
	g.Format = output.ResolveFormat(g.Format, g.Stdout)
	return g
}

// writer returns the event writer for the global format
func (g *Globals) writer(w io.Writer) output.EventWriter {
	if g.Format == "text" {
		return output.NewTextWriter(w)
	}
	return output.NewNDJSONWriter(w)
}
