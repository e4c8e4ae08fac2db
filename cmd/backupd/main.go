// Command backupd is the CLI entry point: it wires internal/config,
// internal/orchestrator, internal/restore, internal/verify,
// internal/scheduler, and internal/history behind the command surface
// described in spec.md §6 (backup, restore, verify, status, schedule,
// dry-run).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// sharedFlags are accepted by every subcommand that needs a config file
// and a state directory to resolve the timestamp store, history DB, and
// PID lock against.
type sharedFlags struct {
	configPath string
	stateDir   string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &sharedFlags{}

	root := &cobra.Command{
		Use:   "backupd",
		Short: "Multi-destination file-tree backup engine",
		Long: `backupd copies a source directory tree to local directories, SFTP
hosts, and S3-compatible buckets in full, incremental, or differential
mode, recording a manifest per run that drives restore and verify.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "backupd.ini", "path to the INI configuration file")
	root.PersistentFlags().StringVar(&flags.stateDir, "state-dir", defaultStateDir(), "directory for timestamps, history DB, and the scheduler lock file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newBackupCmd(flags),
		newDryRunCmd(flags),
		newRestoreCmd(flags),
		newVerifyCmd(flags),
		newStatusCmd(flags),
		newScheduleCmd(flags),
	)

	return root
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".backupd"
	}
	return home + "/.backupd"
}
