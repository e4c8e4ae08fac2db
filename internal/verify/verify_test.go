package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qbak-io/backupd/internal/cryptocodec"
	"github.com/qbak-io/backupd/internal/manifest"
)

func writeManifest(t *testing.T, dir string, doc manifest.Document) {
	t.Helper()
	_, err := manifest.Save(dir, doc)
	require.NoError(t, err)
}

func TestRun_VerifiesMatchingSizes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	writeManifest(t, dir, manifest.Document{
		Timestamp: "20260101_000000",
		Mode:      manifest.ModeFull,
		Copied:    []manifest.CopiedEntry{{Path: "a.txt", Size: 5}},
	})

	report, err := Run([]string{dir}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Overall.Verified)
	require.Equal(t, 0, report.Overall.Missing)
	require.Equal(t, 0, report.Overall.Corrupted)
}

func TestRun_DetectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, manifest.Document{
		Timestamp: "20260101_000000",
		Mode:      manifest.ModeFull,
		Copied:    []manifest.CopiedEntry{{Path: "gone.txt", Size: 5}},
	})

	report, err := Run([]string{dir}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Overall.Missing)
	require.Len(t, report.Dirs, 1)
	require.NotEmpty(t, report.Dirs[0].Issues)
}

func TestRun_DetectsSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("tampered content"), 0o644))
	writeManifest(t, dir, manifest.Document{
		Timestamp: "20260101_000000",
		Mode:      manifest.ModeFull,
		Copied:    []manifest.CopiedEntry{{Path: "a.txt", Size: 5}},
	})

	report, err := Run([]string{dir}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Overall.Corrupted)
}

func TestRun_FallsBackToReadabilityProbeWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("world"), 0o644))

	report, err := Run([]string{dir}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, report.Overall.Verified)
}

func TestRun_DecryptsEncryptedStandInWhenCredentialAvailable(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "secret.txt")
	payload := []byte("encrypted payload contents")
	require.NoError(t, os.WriteFile(plainPath, payload, 0o644))

	cred := cryptocodec.Credential{Passphrase: "verify-pass"}
	_, err := cryptocodec.EncryptFile(plainPath, cred)
	require.NoError(t, err)

	writeManifest(t, dir, manifest.Document{
		Timestamp: "20260101_000000",
		Mode:      manifest.ModeFull,
		Copied:    []manifest.CopiedEntry{{Path: "secret.txt", Size: int64(len(payload))}},
	})

	report, err := Run([]string{dir}, &cred)
	require.NoError(t, err)
	require.Equal(t, 1, report.Overall.Verified)
	require.Equal(t, 0, report.Overall.Missing)
	require.Equal(t, 0, report.Overall.Corrupted)
}

func TestRun_MissingEncryptedStandInWithoutCredentialCountsAsMissing(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(plainPath, []byte("payload"), 0o644))
	cred := cryptocodec.Credential{Passphrase: "verify-pass"}
	_, err := cryptocodec.EncryptFile(plainPath, cred)
	require.NoError(t, err)

	writeManifest(t, dir, manifest.Document{
		Timestamp: "20260101_000000",
		Mode:      manifest.ModeFull,
		Copied:    []manifest.CopiedEntry{{Path: "secret.txt", Size: 7}},
	})

	report, err := Run([]string{dir}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Overall.Missing)
}
