package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbak-io/backupd/internal/history"
	"github.com/qbak-io/backupd/internal/manifest"
	"github.com/qbak-io/backupd/internal/timestampstore"
)

func newStatusCmd(flags *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report last-backup times, the latest manifest summary, and destination sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ts := timestampstore.New(filepath.Join(flags.stateDir, "BackupTimestamp"))
			lastBackup, err := ts.GetLastBackup()
			if err != nil {
				return err
			}
			lastFull, err := ts.GetLastFullBackup()
			if err != nil {
				return err
			}
			fmt.Printf("last_backup_time: %s\n", formatTimeOrNever(lastBackup))
			fmt.Printf("last_full_backup_time: %s\n", formatTimeOrNever(lastFull))

			for _, dir := range cfg.BackupDirs {
				size, err := dirSize(dir)
				if err != nil {
					fmt.Printf("%s: unreadable (%v)\n", dir, err)
					continue
				}
				fmt.Printf("%s: %d bytes\n", dir, size)

				doc, err := manifest.LoadLatest(dir)
				if err != nil {
					continue
				}
				if doc != nil {
					fmt.Printf("  latest manifest: mode=%s copied=%d skipped=%d failed=%d\n",
						doc.Mode, doc.FilesCopied, doc.FilesSkipped, doc.FilesFailed)
				}
			}

			store, err := history.Open(flags.stateDir + "/history.sqlite3")
			if err != nil {
				return nil // no history yet is not an error for status
			}
			defer store.Close()

			runs, err := store.Latest(5)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Printf("run %s: mode=%s finished=%s success=%v\n", r.ID, r.Mode, r.FinishedAt.Format("2006-01-02 15:04:05"), r.Success)
			}
			return nil
		},
	}
}

func formatTimeOrNever(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04:05")
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
