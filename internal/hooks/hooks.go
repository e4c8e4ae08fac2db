// Package hooks runs the pre/post backup commands and any db-dump-style
// pre-hook subprocess, each bounded by a wall-clock timeout, per spec.md
// §5 ("Database-dump style sub-processes ... carry a wall-clock timeout
// of one hour") and §11's supplemented db-dump hook pattern.
package hooks

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is applied when a caller does not specify one — it
// matches the one-hour default a database dump is expected to fit in.
const DefaultTimeout = time.Hour

// Run executes command through the shell, bounded by timeout (or
// DefaultTimeout when timeout is 0). A non-zero exit or context
// cancellation is returned as an error; stdout/stderr are captured and
// logged at debug level on success, warn level on failure.
func Run(ctx context.Context, command string, timeout time.Duration, logger *zap.Logger) error {
	if command == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger = logger.Named("hooks")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Warn("hook command failed",
			zap.String("command", command),
			zap.ByteString("output", output),
			zap.Error(err))
		return fmt.Errorf("hooks: run %q: %w", command, err)
	}

	logger.Debug("hook command succeeded",
		zap.String("command", command),
		zap.ByteString("output", output))
	return nil
}
