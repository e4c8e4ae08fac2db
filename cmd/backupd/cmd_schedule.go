package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbak-io/backupd/internal/orchestrator"
	"github.com/qbak-io/backupd/internal/scheduler"
)

func newScheduleCmd(flags *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the scheduler daemon, firing a backup at each configured HH:MM",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(flags)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			daemon, err := scheduler.New(scheduler.Options{
				LockPath:      filepath.Join(flags.stateDir, "backupd.lock"),
				ScheduleTimes: cfg.ScheduleTimes,
				Run: func(ctx context.Context) error {
					opts, err := buildOrchestratorOptions(cfg, flags.stateDir, false)
					if err != nil {
						return err
					}
					startedAt := time.Now()
					result, err := orchestrator.Run(ctx, opts, logger)
					if err != nil {
						return err
					}
					return recordHistory(flags, startedAt, time.Now(), result)
				},
			}, logger)
			if err != nil {
				return err
			}

			return daemon.Serve(cmd.Context())
		},
	}
}
