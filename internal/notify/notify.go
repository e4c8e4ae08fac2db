// Package notify defines the notification capability-set the
// orchestrator reports run outcomes through (§11). Chat-bot and email
// delivery are out-of-core external collaborators; this package only
// ships the interface and a logger-backed implementation so the core
// never imports an SMTP or bot client.
package notify

import (
	"go.uber.org/zap"
)

// Outcome is the minimal summary a Sink needs to report a finished run.
type Outcome struct {
	Mode         string
	FilesCopied  int
	FilesSkipped int
	FilesFailed  int
	Err          error
}

// Sink is the capability every notification backend implements. A real
// bot or email sink lives outside this module and is wired in by the
// caller; backupd itself never depends on one directly.
type Sink interface {
	Notify(Outcome)
}

// LogSink reports outcomes through the structured logger. It is the only
// in-tree Sink implementation.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink writing through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

// Notify logs the outcome at info level on success, warn on failure.
func (s *LogSink) Notify(o Outcome) {
	fields := []zap.Field{
		zap.String("mode", o.Mode),
		zap.Int("files_copied", o.FilesCopied),
		zap.Int("files_skipped", o.FilesSkipped),
		zap.Int("files_failed", o.FilesFailed),
	}
	if o.Err != nil {
		s.logger.Warn("backup run finished with errors", append(fields, zap.Error(o.Err))...)
		return
	}
	s.logger.Info("backup run finished", fields...)
}
