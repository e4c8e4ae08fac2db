package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qbak-io/backupd/internal/cryptocodec"
	"github.com/qbak-io/backupd/internal/objectstore"
	"github.com/qbak-io/backupd/internal/restore"
	"github.com/qbak-io/backupd/internal/sftpengine"
)

func newRestoreCmd(flags *sharedFlags) *cobra.Command {
	var (
		timestamp  string
		passphrase string
		sshPass    string
		s3Bucket   objectstore.Bucket
	)

	cmd := &cobra.Command{
		Use:   "restore <source-spec> <destination-dir>",
		Short: "Restore a backup from a local dir, ssh://, s3://, or .zip source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(flags)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			opts := restore.Options{
				Timestamp:    timestamp,
				SSHAuth:      sftpengine.Auth{Password: sshPass},
				SSHPort:      22,
				ObjectBucket: s3Bucket,
			}
			if passphrase != "" {
				opts.Credential = &cryptocodec.Credential{Passphrase: passphrase}
			}

			ok, err := restore.Restore(cmd.Context(), args[0], args[1], opts, logger)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			if !ok {
				return fmt.Errorf("restore completed with errors, see log output")
			}
			fmt.Println("restore complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&timestamp, "at", "", "restore the tree as of this manifest timestamp (YYYYMMDD_HHMMSS), empty = latest")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "decryption passphrase, if the backup is encrypted")
	cmd.Flags().StringVar(&sshPass, "ssh-password", "", "password for an ssh://-scheme source")
	cmd.Flags().StringVar(&s3Bucket.Region, "s3-region", "", "region for an s3://-scheme source")
	cmd.Flags().StringVar(&s3Bucket.AccessKey, "s3-access-key", "", "access key for an s3://-scheme source")
	cmd.Flags().StringVar(&s3Bucket.SecretKey, "s3-secret-key", "", "secret key for an s3://-scheme source")
	cmd.Flags().StringVar(&s3Bucket.Endpoint, "s3-endpoint", "", "custom endpoint for an S3-compatible source")

	return cmd
}
