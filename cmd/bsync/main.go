package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/vburojevic/bsync/internal/cli"
	"github.com/vburojevic/bsync/internal/config"
)

const quickStart = `bsync - keep a builder session in sync with its backend

Quick start:
  bsync connect                          Stream session events as NDJSON
  bsync connect -f text --where type>=warning
  bsync state user.name                  Print one value from the app state
  bsync ui                               Interactive status view
  bsync edit edits.ndjson                Apply component edits with undo/redo

For help:
  bsync --help                           All commands and flags
  bsync schema                           JSON Schema of every NDJSON event
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config values become flag defaults; explicit flags still win
	vars := kong.Vars{
		"config_format": cfg.Format,
		"config_level":  cfg.Level,
		"config_server": cfg.Server.URL,
	}

	ctx := kong.Parse(&c,
		kong.Name("bsync"),
		kong.Description("bsync: attach to a builder backend session and stream its state, components and logs"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	if err := ctx.Run(globals); err != nil {
		os.Exit(1)
	}
}
