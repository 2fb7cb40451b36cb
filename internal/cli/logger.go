package cli

import (
	"go.uber.org/zap"
)

// newAgentLogger builds the debug logger handed to the session client.
// Without --verbose it discards everything.
func newAgentLogger(globals *Globals, runID string) *zap.Logger {
	if globals == nil || !globals.Verbose {
		return zap.NewNop()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("run_id", runID))
}
