package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/vburojevic/bsync/internal/output"
)

// VersionCmd prints build information
type VersionCmd struct{}

// VersionOutput represents the NDJSON output for version
type VersionOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	GoVersion     string `json:"go_version"`
	GoInstall     string `json:"go_install"`
}

const goInstallCmd = "go install github.com/vburojevic/bsync/cmd/bsync@latest"

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(VersionOutput{
			Type:          "version",
			SchemaVersion: output.SchemaVersion,
			Version:       Version,
			Commit:        Commit,
			GoVersion:     runtime.Version(),
			GoInstall:     goInstallCmd,
		})
	}

	fmt.Fprintf(globals.Stdout, "bsync %s (%s, %s)\n", Version, Commit, runtime.Version())
	fmt.Fprintln(globals.Stdout)
	fmt.Fprintln(globals.Stdout, "To upgrade via Go:")
	fmt.Fprintf(globals.Stdout, "  %s\n", goInstallCmd)
	return nil
}
