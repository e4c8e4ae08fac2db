// Package logging builds the structured logger shared by every backupd
// component. All components receive a *zap.Logger named after themselves
// rather than constructing their own, so log output carries a consistent
// component path (e.g. "orchestrator.sftp").
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	// Debug enables debug-level logging and human-readable console output.
	// Production runs (the default) emit JSON at info level.
	Debug bool
}

// New builds the root logger for a backupd process. Callers derive
// component loggers with logger.Named("component").
func New(opts Options) (*zap.Logger, error) {
	if opts.Debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests that do not
// want to assert on log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
