package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qbak-io/backupd/internal/config"
	"github.com/qbak-io/backupd/internal/cryptocodec"
	"github.com/qbak-io/backupd/internal/logging"
	"github.com/qbak-io/backupd/internal/objectstore"
	"github.com/qbak-io/backupd/internal/orchestrator"
	"github.com/qbak-io/backupd/internal/retention"
	"github.com/qbak-io/backupd/internal/secretstore"
	"github.com/qbak-io/backupd/internal/sftpengine"
)

// secretsFromConfig resolves every credential-shaped field config.Load
// parsed as a plain string into a secretstore.SecretStore, so the rest of
// the wiring reads credentials through the one Get(name) seam instead of
// touching *config.Config fields directly.
func secretsFromConfig(cfg *config.Config) secretstore.SecretStore {
	return secretstore.NewInMemory(map[string]string{
		"ssh_password":          cfg.SSHPassword,
		"s3_access_key":         cfg.S3AccessKey,
		"s3_secret_key":         cfg.S3SecretKey,
		"encryption_passphrase": cfg.EncryptionPassphrase,
	})
}

// getSecret returns "" for a secret the store does not hold
// (secretstore.ErrNotFound), and only surfaces unexpected errors. A config
// field left blank is stored as "" and comes back as "" without an error.
func getSecret(secrets secretstore.SecretStore, name string) (string, error) {
	v, err := secrets.Get(name)
	if err != nil {
		var notFound *secretstore.ErrNotFound
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func buildLogger(flags *sharedFlags) (*zap.Logger, error) {
	return logging.New(logging.Options{Debug: flags.debug})
}

func loadConfig(flags *sharedFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("backupd: load config: %w", err)
	}
	return cfg, nil
}

// buildDestinations translates the flat INI sink configuration into the
// orchestrator's typed destination set, honoring the MODES.* toggles.
// Credentials are resolved through secrets rather than read off cfg
// directly, so every caller shares one secret-resolution seam.
func buildDestinations(cfg *config.Config, secrets secretstore.SecretStore) (orchestrator.Destinations, error) {
	var dest orchestrator.Destinations

	if cfg.ModeLocal {
		dest.LocalDirs = cfg.BackupDirs
	}

	if cfg.ModeSSH {
		sshPassword, err := getSecret(secrets, "ssh_password")
		if err != nil {
			return dest, fmt.Errorf("backupd: resolve ssh_password secret: %w", err)
		}
		for _, spec := range cfg.SSHServers {
			host, remoteRoot := splitHostRemote(spec, cfg.SourceDir)
			dest.SFTPServers = append(dest.SFTPServers, sftpengine.Server{
				Host:          host,
				Port:          22,
				User:          cfg.SSHUsername,
				Auth:          sftpengine.Auth{Password: sshPassword},
				RemoteRoot:    remoteRoot,
				BandwidthKbps: cfg.BandwidthLimit,
			})
		}
	}

	if cfg.ModeS3 && cfg.S3Bucket != "" {
		accessKey, err := getSecret(secrets, "s3_access_key")
		if err != nil {
			return dest, fmt.Errorf("backupd: resolve s3_access_key secret: %w", err)
		}
		secretKey, err := getSecret(secrets, "s3_secret_key")
		if err != nil {
			return dest, fmt.Errorf("backupd: resolve s3_secret_key secret: %w", err)
		}
		dest.ObjectBuckets = append(dest.ObjectBuckets, objectstore.Bucket{
			Name:      cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			AccessKey: accessKey,
			SecretKey: secretKey,
		})
	}

	return dest, nil
}

// splitHostRemote parses an ssh_servers entry of the form "host" or
// "host:/remote/path". When no remote path is given, it defaults to the
// absolute path "/" + the source directory's base name.
func splitHostRemote(spec, sourceDir string) (host, remoteRoot string) {
	if idx := strings.Index(spec, ":"); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return spec, "/" + filepath.Base(sourceDir)
}

func encryptionCredential(cfg *config.Config, secrets secretstore.SecretStore) (bool, cryptocodec.Credential, error) {
	if !cfg.EncryptionEnabled {
		return false, cryptocodec.Credential{}, nil
	}
	passphrase, err := getSecret(secrets, "encryption_passphrase")
	if err != nil {
		return false, cryptocodec.Credential{}, fmt.Errorf("backupd: resolve encryption_passphrase secret: %w", err)
	}
	if passphrase != "" {
		return true, cryptocodec.Credential{Passphrase: passphrase}, nil
	}
	key, err := readKeyFile(cfg.EncryptionKeyFile)
	if err != nil {
		return false, cryptocodec.Credential{}, err
	}
	return true, cryptocodec.Credential{RawKey: key}, nil
}

func buildOrchestratorOptions(cfg *config.Config, stateDir string, dryRun bool) (orchestrator.Options, error) {
	secrets := secretsFromConfig(cfg)

	encEnabled, cred, err := encryptionCredential(cfg, secrets)
	if err != nil {
		return orchestrator.Options{}, err
	}

	destinations, err := buildDestinations(cfg, secrets)
	if err != nil {
		return orchestrator.Options{}, err
	}

	return orchestrator.Options{
		SourceDir:         cfg.SourceDir,
		ExcludePatterns:   cfg.ExcludePatterns,
		Mode:              toManifestMode(cfg.Mode),
		ParallelCopies:    cfg.ParallelCopies,
		Destinations:      destinations,
		TimestampDir:      filepath.Join(stateDir, "BackupTimestamp"),
		PreHook:           cfg.HookPreBackup,
		PostHook:          cfg.HookPostBackup,
		HookTimeout:       time.Hour,
		RetentionRule:     retention.Rule{MaxAgeDays: cfg.RetentionMaxAgeDays, MaxCount: cfg.RetentionMaxCount},
		RunDedup:          cfg.ModeLocal && len(cfg.BackupDirs) > 1,
		EncryptionEnabled: encEnabled,
		EncryptionCred:    cred,
		DryRun:            dryRun,
	}, nil
}
