package cli

// validateFlags centralizes common flag combinations to keep behavior consistent.
func validateFlags(globals *Globals, tmux bool, outputDir string) error {
	if tmux && outputDir != "" {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--tmux cannot be combined with --output-dir", "pick one destination for session events")
	}
	if globals != nil && globals.Format != "ndjson" && globals.Format != "text" {
		return outputErrorCommon(globals, "INVALID_FLAGS", "unknown output format "+globals.Format, "use --format ndjson or --format text")
	}
	// quiet + text is confusing for agents; steer to ndjson
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	if globals != nil && globals.Server == "" {
		return outputErrorCommon(globals, "INVALID_FLAGS", "no backend server configured", "pass --server or set server.url in bsync.yaml")
	}
	return nil
}
