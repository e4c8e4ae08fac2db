package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/qbak-io/backupd/internal/manifest"
)

func toManifestMode(mode string) manifest.Mode {
	switch strings.ToLower(mode) {
	case "incremental":
		return manifest.ModeIncremental
	case "differential":
		return manifest.ModeDifferential
	default:
		return manifest.ModeFull
	}
}

func readKeyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("backupd: encryption enabled but neither passphrase nor key_file is set")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backupd: read key file %s: %w", path, err)
	}
	return data, nil
}
