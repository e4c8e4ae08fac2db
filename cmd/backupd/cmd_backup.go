package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qbak-io/backupd/internal/history"
	"github.com/qbak-io/backupd/internal/notify"
	"github.com/qbak-io/backupd/internal/orchestrator"
)

func newBackupCmd(flags *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Run one backup according to the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, flags, false)
		},
	}
}

func newDryRunCmd(flags *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run",
		Short: "Compute and print the backup plan without touching any destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, flags, true)
		},
	}
}

func runBackup(cmd *cobra.Command, flags *sharedFlags, dryRun bool) error {
	logger, err := buildLogger(flags)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	opts, err := buildOrchestratorOptions(cfg, flags.stateDir, dryRun)
	if err != nil {
		return err
	}
	opts.Notify = notify.NewLogSink(logger)

	startedAt := time.Now()
	result, err := orchestrator.Run(cmd.Context(), opts, logger)
	if err != nil {
		if result.Aborted {
			return fmt.Errorf("backup aborted: %s: %w", result.Reason, err)
		}
		return err
	}

	if dryRun {
		fmt.Printf("plan: mode=%s entries=%d total_bytes=%d local=%v sftp=%v s3=%v\n",
			result.Plan.Mode, result.Plan.EntryCount, result.Plan.TotalBytes,
			result.Plan.LocalDirs, result.Plan.SFTPHosts, result.Plan.ObjectBuckets)
		return nil
	}

	fmt.Printf("backup complete: mode=%s copied=%d skipped=%d failed=%d\n",
		result.Manifest.Mode, result.Manifest.FilesCopied, result.Manifest.FilesSkipped, result.Manifest.FilesFailed)

	if err := recordHistory(flags, startedAt, time.Now(), result); err != nil {
		logger.Warn("failed to record run history", zap.Error(err))
	}

	if result.Manifest.FilesFailed > 0 {
		return fmt.Errorf("backup completed with %d failed files", result.Manifest.FilesFailed)
	}
	return nil
}

func recordHistory(flags *sharedFlags, startedAt, finishedAt time.Time, result orchestrator.Result) error {
	store, err := history.Open(flags.stateDir + "/history.sqlite3")
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = store.RecordRun(startedAt, finishedAt, result.Manifest, result.Manifest.FilesFailed == 0)
	return err
}
