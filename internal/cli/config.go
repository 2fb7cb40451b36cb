package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/bsync/internal/config"
)

// ConfigCmd groups the configuration subcommands
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is loaded"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample config file"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct{}

// ConfigOutput is the NDJSON form of the effective configuration
type ConfigOutput struct {
	Type          string         `json:"type"` // "config"
	SchemaVersion int            `json:"schemaVersion"`
	File          string         `json:"file,omitempty"`
	Format        string         `json:"format"`
	Level         string         `json:"level"`
	Quiet         bool           `json:"quiet"`
	Verbose       bool           `json:"verbose"`
	Server        string         `json:"server"`
	Session       map[string]any `json:"session"`
	Ledger        map[string]any `json:"ledger"`
	Logs          map[string]any `json:"logs"`
}

func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if cfg == nil {
		cfg = config.Default()
	}

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(&ConfigOutput{
			Type:          "config",
			SchemaVersion: 1,
			File:          config.ConfigFile(),
			Format:        globals.Format,
			Level:         globals.Level,
			Quiet:         globals.Quiet,
			Verbose:       globals.Verbose,
			Server:        globals.Server,
			Session: map[string]any{
				"reconnect_delay":    cfg.Session.ReconnectDelay.String(),
				"keepalive_interval": cfg.Session.KeepAliveInterval.String(),
				"watchdog_interval":  cfg.Session.WatchdogInterval.String(),
				"state_dir":          cfg.Session.StateDir,
			},
			Ledger: map[string]any{"debounce_window": cfg.Ledger.DebounceWindow.String()},
			Logs:   map[string]any{"capacity": cfg.Logs.Capacity},
		})
	}

	out := globals.Stdout
	fmt.Fprintln(out, "Current Configuration:")
	fmt.Fprintf(out, "  format:  %s\n", globals.Format)
	fmt.Fprintf(out, "  level:   %s\n", globals.Level)
	fmt.Fprintf(out, "  quiet:   %t\n", globals.Quiet)
	fmt.Fprintf(out, "  verbose: %t\n", globals.Verbose)
	fmt.Fprintf(out, "  server:  %s\n", globals.Server)
	fmt.Fprintln(out, "Session:")
	fmt.Fprintf(out, "  reconnect_delay:    %s\n", cfg.Session.ReconnectDelay)
	fmt.Fprintf(out, "  keepalive_interval: %s\n", cfg.Session.KeepAliveInterval)
	fmt.Fprintf(out, "  watchdog_interval:  %s\n", cfg.Session.WatchdogInterval)
	if cfg.Session.StateDir != "" {
		fmt.Fprintf(out, "  state_dir:          %s\n", cfg.Session.StateDir)
	}
	fmt.Fprintln(out, "Ledger:")
	fmt.Fprintf(out, "  debounce_window: %s\n", cfg.Ledger.DebounceWindow)
	fmt.Fprintln(out, "Logs:")
	fmt.Fprintf(out, "  capacity: %d\n", cfg.Logs.Capacity)
	return nil
}

// ConfigPathCmd prints the config file in use
type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]any{
			"type":          "config_path",
			"schemaVersion": 1,
			"path":          path,
			"found":         path != "",
		})
	}
	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found (searched bsync.yaml and .bsyncrc)")
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

// ConfigGenerateCmd prints a commented sample config
type ConfigGenerateCmd struct{}

const sampleConfig = `# bsync configuration file
# Save as bsync.yaml in the working directory or your home directory.
# Every key can also be set with a BSYNC_ environment variable,
# e.g. BSYNC_SERVER_URL or BSYNC_SESSION_RECONNECT_DELAY.

format: ndjson        # ndjson, text or auto
level: info           # debug, info, warning, error, critical
quiet: false
verbose: false

server:
  url: http://localhost:4005

session:
  reconnect_delay: 1s
  keepalive_interval: 20s
  watchdog_interval: 150ms
  # state_dir: ~/.bsync/sessions

ledger:
  debounce_window: 1s

logs:
  capacity: 100
`

func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	_, err := fmt.Fprint(globals.Stdout, sampleConfig)
	return err
}
